package remotetest

import (
	"net/http"
	"slices"
	"strings"

	"github.com/hpungsan/gepdash/internal/entity"
)

// Genes

func (s *Server) listGenes(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := page(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	status := entity.GeneStatus(r.URL.Query().Get("status"))

	s.mu.Lock()
	var matched []entity.Gene
	for _, g := range s.genes {
		if status == "" || g.Status == status {
			matched = append(matched, *g)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, window(matched, skip, limit))
}

func (s *Server) getGene(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	i := s.findGene(r.PathValue("id"))
	var g entity.Gene
	if i >= 0 {
		g = *s.genes[i]
	}
	s.mu.Unlock()

	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Gene not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) createGene(w http.ResponseWriter, r *http.Request) {
	var in entity.GeneCreate
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	if slices.ContainsFunc(s.genes, func(g *entity.Gene) bool { return g.Name == in.Name }) {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Gene with this name already exists")
		return
	}
	g := entity.Gene{
		ID:             newID(),
		Name:           in.Name,
		Description:    in.Description,
		Implementation: in.Implementation,
		PromptTemplate: in.PromptTemplate,
		Status:         entity.GeneDraft,
		ContextTags:    in.ContextTags,
	}
	if in.Status != nil {
		g.Status = *in.Status
	}
	if in.SuccessRate != nil {
		g.SuccessRate = *in.SuccessRate
	}
	if g.ContextTags == nil {
		g.ContextTags = []string{}
	}
	g.CreatedAt = s.stamp()
	g.UpdatedAt = g.CreatedAt
	s.genes = append(s.genes, &g)
	out := g
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) updateGene(w http.ResponseWriter, r *http.Request) {
	var in entity.GeneUpdate
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	i := s.findGene(r.PathValue("id"))
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Gene not found")
		return
	}
	g := *s.genes[i]
	if in.Name != nil {
		g.Name = *in.Name
	}
	if in.Description != nil {
		g.Description = in.Description
	}
	if in.Implementation != nil {
		g.Implementation = in.Implementation
	}
	if in.PromptTemplate != nil {
		g.PromptTemplate = in.PromptTemplate
	}
	if in.Status != nil {
		g.Status = *in.Status
	}
	if in.SuccessRate != nil {
		g.SuccessRate = *in.SuccessRate
	}
	if in.ContextTags != nil {
		g.ContextTags = *in.ContextTags
	}
	g.UpdatedAt = s.stamp()
	s.genes[i] = &g
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, g)
}

// deleteGene drops the gene and its capsule associations.
func (s *Server) deleteGene(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	i := s.findGene(id)
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Gene not found")
		return
	}
	s.genes = slices.Delete(s.genes, i, i+1)
	for j, c := range s.capsules {
		if slices.Contains(c.GeneIDs, id) {
			updated := *c
			updated.GeneIDs = slices.DeleteFunc(slices.Clone(c.GeneIDs), func(g string) bool { return g == id })
			s.capsules[j] = &updated
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// Capsules

func (s *Server) listCapsules(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := page(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	all := make([]entity.Capsule, 0, len(s.capsules))
	for _, c := range s.capsules {
		all = append(all, *c)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, window(all, skip, limit))
}

func (s *Server) getCapsule(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	i := s.findCapsule(r.PathValue("id"))
	var c entity.Capsule
	if i >= 0 {
		c = *s.capsules[i]
	}
	s.mu.Unlock()

	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Capsule not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) createCapsule(w http.ResponseWriter, r *http.Request) {
	var in entity.CapsuleCreate
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	if slices.ContainsFunc(s.capsules, func(c *entity.Capsule) bool { return c.Name == in.Name }) {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Capsule with this name already exists")
		return
	}
	c := entity.Capsule{
		ID:              newID(),
		Name:            in.Name,
		Description:     in.Description,
		InputSchema:     in.InputSchema,
		OutputSchema:    in.OutputSchema,
		ExecutionTimeMS: in.ExecutionTimeMS,
		GeneIDs:         s.knownGenes(in.GeneIDs),
	}
	c.CreatedAt = s.stamp()
	c.UpdatedAt = c.CreatedAt
	s.capsules = append(s.capsules, &c)
	out := c
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) updateCapsule(w http.ResponseWriter, r *http.Request) {
	var in entity.CapsuleUpdate
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	i := s.findCapsule(r.PathValue("id"))
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Capsule not found")
		return
	}
	c := *s.capsules[i]
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Description != nil {
		c.Description = in.Description
	}
	if entity.Present(in.InputSchema) {
		c.InputSchema = in.InputSchema
	}
	if entity.Present(in.OutputSchema) {
		c.OutputSchema = in.OutputSchema
	}
	if in.ExecutionTimeMS != nil {
		c.ExecutionTimeMS = in.ExecutionTimeMS
	}
	if in.GeneIDs != nil {
		c.GeneIDs = s.knownGenes(*in.GeneIDs)
	}
	c.UpdatedAt = s.stamp()
	s.capsules[i] = &c
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, c)
}

// deleteCapsule drops the capsule and every event attached to it.
func (s *Server) deleteCapsule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	i := s.findCapsule(id)
	if i < 0 {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Capsule not found")
		return
	}
	s.capsules = slices.Delete(s.capsules, i, i+1)
	s.events = slices.DeleteFunc(s.events, func(e *entity.Event) bool {
		return e.CapsuleID != nil && *e.CapsuleID == id
	})
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// knownGenes keeps the ids that name stored genes, in request order. Caller
// holds s.mu.
func (s *Server) knownGenes(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if s.findGene(id) >= 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Events

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := page(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	q := r.URL.Query()
	eventType := entity.EventType(q.Get("event_type"))
	capsuleID := q.Get("capsule_id")

	s.mu.Lock()
	var matched []entity.Event
	for _, e := range s.events {
		if eventType != "" && e.EventType != eventType {
			continue
		}
		if capsuleID != "" && (e.CapsuleID == nil || *e.CapsuleID != capsuleID) {
			continue
		}
		matched = append(matched, *e)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, window(matched, skip, limit))
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	i := s.findEvent(r.PathValue("id"))
	var e entity.Event
	if i >= 0 {
		e = *s.events[i]
	}
	s.mu.Unlock()

	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var in entity.EventCreate
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if in.CapsuleID != nil && strings.TrimSpace(*in.CapsuleID) == "" {
		in.CapsuleID = nil
	}

	s.mu.Lock()
	e := entity.Event{
		ID:          newID(),
		CapsuleID:   in.CapsuleID,
		EventType:   in.EventType,
		Description: in.Description,
		Payload:     in.Payload,
		CreatedAt:   s.stamp(),
	}
	s.events = append(s.events, &e)
	out := e
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}
