package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/gepdash/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts := Options{BaseURL: srv.URL, APIPrefix: "/api/v1"}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "://nope"})
	assert.Error(t, err)
}

func TestGet_DecodesJSONAndBuildsURL(t *testing.T) {
	var gotPath, gotQuery, gotAccept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": "g1"}]`))
	})

	var out []map[string]any
	err := c.Get(context.Background(), "/genes", url.Values{"skip": {"0"}, "limit": {"100"}}, &out)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/genes", gotPath)
	assert.Equal(t, "limit=100&skip=0", gotQuery)
	assert.Equal(t, "application/json", gotAccept)
	require.Len(t, out, 1)
	assert.Equal(t, "g1", out[0]["id"])
}

func TestPost_SendsJSONBody(t *testing.T) {
	var got map[string]any
	var contentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "new"}`))
	})

	var out struct{ ID string }
	require.NoError(t, c.Post(context.Background(), "genes", map[string]string{"name": "X"}, &out))

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "X", got["name"])
	assert.Equal(t, "new", out.ID)
}

func TestDo_StatusCodesBecomeCodedErrors(t *testing.T) {
	tests := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusNotFound, errors.ErrNotFound},
		{http.StatusBadRequest, errors.ErrInvalidRequest},
		{http.StatusConflict, errors.ErrConflict},
		{http.StatusInternalServerError, errors.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`not json at all`))
			})

			var out map[string]any
			err := c.Get(context.Background(), "/genes/x", nil, &out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)

			appErr := errors.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.status, appErr.Status)
			assert.Equal(t, "not json at all", appErr.Details["body"])
		})
	}
}

func TestDelete_NoContent(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Delete(context.Background(), "/genes/g1"))
	assert.Equal(t, http.MethodDelete, method)
}

func TestDo_DecodeFailureIsInternal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": `))
	})

	var out map[string]any
	err := c.Get(context.Background(), "/genes/g1", nil, &out)
	assert.True(t, errors.Is(err, errors.ErrInternal), "got %v", err)
}

func TestDo_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: base})
	require.NoError(t, err)

	err = c.Get(context.Background(), "/genes", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrTransport), "got %v", err)
}

func TestDo_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	defer close(release)

	err := c.Get(context.Background(), "/genes", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrTransport), "got %v", err)
}

func TestDo_RateLimiterHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, func(o *Options) { o.RateLimit = 0.001; o.RateBurst = 1 })

	require.NoError(t, c.Delete(context.Background(), "/genes/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Delete(ctx, "/genes/b")
	assert.True(t, errors.Is(err, errors.ErrTransport), "got %v", err)
}
