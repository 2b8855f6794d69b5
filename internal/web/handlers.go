package web

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/repo"
	"github.com/hpungsan/gepdash/internal/session"
)

// Handlers contains HTTP route handlers for the dashboard UI.
type Handlers struct {
	sess     *session.Session
	renderer *Renderer
	logger   *slog.Logger
}

// HandleDashboard handles GET /: summary counts and recent events.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sess.Dashboard(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, stats)
		return
	}

	h.renderer.renderPage(w, r, "dashboard", DashboardPageData{
		PageData: h.renderer.page("Dashboard", "dashboard"),
		Stats:    stats,
	})
}

// HandleGenes handles GET /genes: list genes, optionally by status.
func (h *Handlers) HandleGenes(w http.ResponseWriter, r *http.Request) {
	p := listParams(r)
	p.Status = entity.GeneStatus(r.URL.Query().Get("status"))

	genes, err := h.sess.Genes(r.Context(), p)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, genes)
		return
	}

	h.renderer.renderPage(w, r, "genes", GenesPageData{
		PageData:   h.renderer.page("Genes", "genes"),
		Items:      genes,
		Pagination: paginate(h.normalized(entity.KindGene, p), len(genes)),
		Status:     string(p.Status),
		Statuses:   []entity.GeneStatus{entity.GeneDraft, entity.GeneValidated, entity.GeneDeprecated},
	})
}

// HandleGeneDetail handles GET /genes/{id}: view a single gene.
func (h *Handlers) HandleGeneDetail(w http.ResponseWriter, r *http.Request) {
	gene, err := h.sess.Gene(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, gene)
		return
	}

	h.renderer.renderPage(w, r, "gene", GenePageData{
		PageData:       h.renderer.page(gene.Name, "genes"),
		Gene:           gene,
		Description:    renderMarkdown(gene.Description),
		Implementation: renderMarkdown(gene.Implementation),
		Statuses:       []entity.GeneStatus{entity.GeneDraft, entity.GeneValidated, entity.GeneDeprecated},
	})
}

// HandleGeneCreate handles POST /genes: create a gene from a form or JSON body.
func (h *Handlers) HandleGeneCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeGeneCreate(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	gene, err := h.sess.CreateGene(r.Context(), in)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.logger.Info("gene created", "id", gene.ID, "name", gene.Name)

	h.respondWrite(w, r, http.StatusCreated, "/genes/"+url.PathEscape(gene.ID), gene)
}

// HandleGeneStatus handles POST /genes/{id}/status: move a gene to a new status.
func (h *Handlers) HandleGeneStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	id := r.PathValue("id")
	status := entity.GeneStatus(r.FormValue("status"))
	gene, err := h.sess.SetGeneStatus(r.Context(), id, status)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.respondWrite(w, r, http.StatusOK, "/genes/"+url.PathEscape(gene.ID), gene)
}

// HandleGeneDelete handles DELETE /genes/{id} and its form fallback
// POST /genes/{id}/delete.
func (h *Handlers) HandleGeneDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sess.DeleteGene(r.Context(), id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.logger.Info("gene deleted", "id", id)

	h.respondWrite(w, r, http.StatusOK, "/genes", map[string]any{
		"deleted": true,
		"id":      id,
	})
}

// HandleCapsules handles GET /capsules: list capsules.
func (h *Handlers) HandleCapsules(w http.ResponseWriter, r *http.Request) {
	p := listParams(r)

	capsules, err := h.sess.Capsules(r.Context(), p)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, capsules)
		return
	}

	h.renderer.renderPage(w, r, "capsules", CapsulesPageData{
		PageData:   h.renderer.page("Capsules", "capsules"),
		Items:      capsules,
		Pagination: paginate(h.normalized(entity.KindCapsule, p), len(capsules)),
	})
}

// HandleCapsuleDetail handles GET /capsules/{id}: a capsule with its genes resolved.
func (h *Handlers) HandleCapsuleDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.sess.CapsuleDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, detail)
		return
	}

	h.renderer.renderPage(w, r, "capsule", CapsulePageData{
		PageData:     h.renderer.page(detail.Capsule.Name, "capsules"),
		Detail:       detail,
		Description:  renderMarkdown(detail.Capsule.Description),
		InputSchema:  prettyJSON(detail.Capsule.InputSchema),
		OutputSchema: prettyJSON(detail.Capsule.OutputSchema),
	})
}

// HandleEvents handles GET /events: list events, optionally filtered by
// type or capsule.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	p := listParams(r)
	p.EventType = entity.EventType(r.URL.Query().Get("event_type"))
	p.CapsuleID = r.URL.Query().Get("capsule_id")

	events, err := h.sess.Events(r.Context(), p)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, events)
		return
	}

	h.renderer.renderPage(w, r, "events", EventsPageData{
		PageData:   h.renderer.page("Events", "events"),
		Items:      events,
		Pagination: paginate(h.normalized(entity.KindEvent, p), len(events)),
		EventType:  string(p.EventType),
		CapsuleID:  p.CapsuleID,
		EventTypes: entity.EventTypes,
	})
}

// respondWrite finishes a successful write: htmx clients follow HX-Redirect,
// JSON clients get body, everyone else is redirected to location.
func (h *Handlers) respondWrite(w http.ResponseWriter, r *http.Request, status int, location string, body any) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) || isJSONBody(r) {
		renderJSON(w, status, body)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// normalized returns p as the session will send it, for pagination links.
func (h *Handlers) normalized(kind entity.Kind, p repo.ListParams) repo.ListParams {
	key, err := h.sess.ListKey(kind, p)
	if err != nil {
		return p
	}
	if n, err := repo.ParseListParams(key.Values()); err == nil {
		return n
	}
	return p
}

// listParams reads skip and limit. Unparseable values fall back to defaults.
func listParams(r *http.Request) repo.ListParams {
	return repo.ListParams{
		Skip:  parseIntParam(r, "skip", 0),
		Limit: parseIntParam(r, "limit", 0),
	}
}

func decodeGeneCreate(w http.ResponseWriter, r *http.Request) (entity.GeneCreate, error) {
	var in entity.GeneCreate
	if isJSONBody(r) {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
			return in, errors.NewInvalidRequest("invalid JSON body")
		}
		return in, nil
	}

	if err := r.ParseForm(); err != nil {
		return in, errors.NewInvalidRequest("invalid form data")
	}
	in.Name = strings.TrimSpace(r.FormValue("name"))
	in.Description = ptrString(r.FormValue("description"))
	in.Implementation = ptrString(r.FormValue("implementation"))
	in.PromptTemplate = ptrString(r.FormValue("prompt_template"))
	if s := r.FormValue("status"); s != "" {
		status := entity.GeneStatus(s)
		in.Status = &status
	}
	if s := r.FormValue("success_rate"); s != "" {
		rate, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return in, errors.NewInvalidRequest("success_rate must be a number")
		}
		in.SuccessRate = &rate
	}
	in.ContextTags = splitTags(r.FormValue("context_tags"))
	return in, nil
}

func isJSONBody(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// splitTags parses a comma-separated tag list, dropping blanks.
func splitTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
