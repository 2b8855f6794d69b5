// Package remotetest provides an in-memory collection service that speaks the
// remote /api/v1 contract, for tests of the client layers.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/gepdash/internal/entity"
)

// Prefix is the path prefix the fake serves under.
const Prefix = "/api/v1"

// epoch anchors generated timestamps so ordering is deterministic.
var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Server is a fake remote. Records are kept in insertion order, the order the
// real service lists them in.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	genes    []*entity.Gene
	capsules []*entity.Capsule
	events   []*entity.Event
	seq      int
	hits     map[string]int
	failures map[string][]int
	gate     chan struct{}
	release  func()
}

// New starts a Server and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		hits:     make(map[string]int),
		failures: make(map[string][]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(func() {
		s.mu.Lock()
		release := s.release
		s.mu.Unlock()
		if release != nil {
			release()
		}
		s.Close()
	})
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Prefix+"/genes", s.listGenes)
	mux.HandleFunc("POST "+Prefix+"/genes", s.createGene)
	mux.HandleFunc("GET "+Prefix+"/genes/{id}", s.getGene)
	mux.HandleFunc("PUT "+Prefix+"/genes/{id}", s.updateGene)
	mux.HandleFunc("DELETE "+Prefix+"/genes/{id}", s.deleteGene)

	mux.HandleFunc("GET "+Prefix+"/capsules", s.listCapsules)
	mux.HandleFunc("POST "+Prefix+"/capsules", s.createCapsule)
	mux.HandleFunc("GET "+Prefix+"/capsules/{id}", s.getCapsule)
	mux.HandleFunc("PUT "+Prefix+"/capsules/{id}", s.updateCapsule)
	mux.HandleFunc("DELETE "+Prefix+"/capsules/{id}", s.deleteCapsule)

	mux.HandleFunc("GET "+Prefix+"/events", s.listEvents)
	mux.HandleFunc("POST "+Prefix+"/events", s.createEvent)
	mux.HandleFunc("GET "+Prefix+"/events/{id}", s.getEvent)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.hits[key]++
		gate := s.gate
		status := 0
		if queued := s.failures[key]; len(queued) > 0 {
			status = queued[0]
			s.failures[key] = queued[1:]
		}
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeDetail(w, status, "injected failure")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Hits reports how many requests arrived for method and path, where path is
// relative to Prefix (e.g. "/genes/g1").
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+Prefix+path]
}

// TotalHits reports every request the server has seen.
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

// Hold blocks every request that arrives until the returned release func is
// called. Hits are counted before blocking.
func (s *Server) Hold() (release func()) {
	gate := make(chan struct{})
	var once sync.Once
	release = func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}

	s.mu.Lock()
	prev := s.release
	s.gate = gate
	s.release = release
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	return release
}

// FailNext makes the next request for method and path answer with status.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + Prefix + path
	s.failures[key] = append(s.failures[key], status)
}

// SeedGene stores g as is, filling the id, defaults and timestamps when empty.
func (s *Server) SeedGene(g entity.Gene) entity.Gene {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = newID()
	}
	if g.Status == "" {
		g.Status = entity.GeneDraft
	}
	if g.ContextTags == nil {
		g.ContextTags = []string{}
	}
	if g.CreatedAt == "" {
		g.CreatedAt = s.stamp()
		g.UpdatedAt = g.CreatedAt
	}
	s.genes = append(s.genes, &g)
	return g
}

// SeedCapsule stores c as is. GeneIDs are not checked, so dangling references
// can be seeded.
func (s *Server) SeedCapsule(c entity.Capsule) entity.Capsule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	if c.GeneIDs == nil {
		c.GeneIDs = []string{}
	}
	if c.CreatedAt == "" {
		c.CreatedAt = s.stamp()
		c.UpdatedAt = c.CreatedAt
	}
	s.capsules = append(s.capsules, &c)
	return c
}

// SeedEvent stores e as is.
func (s *Server) SeedEvent(e entity.Event) entity.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = s.stamp()
	}
	s.events = append(s.events, &e)
	return e
}

// Gene returns a copy of the stored gene with id.
func (s *Server) Gene(id string) (entity.Gene, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findGene(id); i >= 0 {
		return *s.genes[i], true
	}
	return entity.Gene{}, false
}

// Capsule returns a copy of the stored capsule with id.
func (s *Server) Capsule(id string) (entity.Capsule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findCapsule(id); i >= 0 {
		return *s.capsules[i], true
	}
	return entity.Capsule{}, false
}

// EventCount reports how many events are stored.
func (s *Server) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// stamp returns the next timestamp. Caller holds s.mu.
func (s *Server) stamp() string {
	s.seq++
	return epoch.Add(time.Duration(s.seq) * time.Second).Format(time.RFC3339)
}

func newID() string {
	return ulid.Make().String()
}

func (s *Server) findGene(id string) int {
	return slices.IndexFunc(s.genes, func(g *entity.Gene) bool { return g.ID == id })
}

func (s *Server) findCapsule(id string) int {
	return slices.IndexFunc(s.capsules, func(c *entity.Capsule) bool { return c.ID == id })
}

func (s *Server) findEvent(id string) int {
	return slices.IndexFunc(s.events, func(e *entity.Event) bool { return e.ID == id })
}

// page parses skip/limit the way the remote validates them.
func page(r *http.Request) (skip, limit int, err error) {
	skip, limit = 0, 100
	q := r.URL.Query()
	if v := q.Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, fmt.Errorf("skip must be >= 0")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 100 {
			return 0, 0, fmt.Errorf("limit must be between 1 and 100")
		}
	}
	return skip, limit, nil
}

func window[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	end := min(skip+limit, len(items))
	return items[skip:end]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}
