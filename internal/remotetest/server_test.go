package remotetest

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/gepdash/internal/entity"
)

func do(t *testing.T, s *Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+Prefix+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateGene_DuplicateNameIs400(t *testing.T) {
	s := New(t)

	resp := do(t, s, "POST", "/genes", `{"name":"parse"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var g entity.Gene
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&g))
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, entity.GeneDraft, g.Status)

	resp = do(t, s, "POST", "/genes", `{"name":"parse"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteGene_DropsCapsuleReference(t *testing.T) {
	s := New(t)
	s.SeedGene(entity.Gene{ID: "g1", Name: "one"})
	s.SeedGene(entity.Gene{ID: "g2", Name: "two"})
	s.SeedCapsule(entity.Capsule{ID: "c1", Name: "flow", GeneIDs: []string{"g1", "g2"}})

	resp := do(t, s, "DELETE", "/genes/g1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	c, ok := s.Capsule("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"g2"}, c.GeneIDs)

	resp = do(t, s, "DELETE", "/genes/g1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteCapsule_CascadesEvents(t *testing.T) {
	s := New(t)
	s.SeedCapsule(entity.Capsule{ID: "c1", Name: "flow"})
	c1 := "c1"
	s.SeedEvent(entity.Event{EventType: entity.EventExecution, CapsuleID: &c1})
	s.SeedEvent(entity.Event{EventType: entity.EventCreation})

	resp := do(t, s, "DELETE", "/capsules/c1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, s.EventCount())
}

func TestCreateCapsule_DropsUnknownGenes(t *testing.T) {
	s := New(t)
	s.SeedGene(entity.Gene{ID: "g1", Name: "one"})

	resp := do(t, s, "POST", "/capsules", `{"name":"flow","gene_ids":["g1","ghost"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var c entity.Capsule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, []string{"g1"}, c.GeneIDs)
}

func TestListEvents_FiltersAndPages(t *testing.T) {
	s := New(t)
	c1 := "c1"
	for range 3 {
		s.SeedEvent(entity.Event{EventType: entity.EventMutation, CapsuleID: &c1})
	}
	s.SeedEvent(entity.Event{EventType: entity.EventRepair})

	var events []entity.Event
	resp := do(t, s, "GET", "/events?event_type=mutation&skip=1&limit=5", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	assert.Len(t, events, 2)

	resp = do(t, s, "GET", "/events?limit=500", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestFailNextAndHits(t *testing.T) {
	s := New(t)
	s.FailNext("GET", "/genes", http.StatusInternalServerError)

	assert.Equal(t, http.StatusInternalServerError, do(t, s, "GET", "/genes", "").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/genes", "").StatusCode)
	assert.Equal(t, 2, s.Hits("GET", "/genes"))
	assert.Equal(t, 2, s.TotalHits())
}
