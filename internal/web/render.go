package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/repo"
	"github.com/hpungsan/gepdash/internal/session"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "dashboard", "genes", "capsules", "events"
}

// Pagination describes the page shown and links to its neighbours.
type Pagination struct {
	Skip    int
	Limit   int
	Count   int
	HasPrev bool
	HasNext bool
	Prev    int
	Next    int
}

func paginate(p repo.ListParams, count int) Pagination {
	prev := p.Skip - p.Limit
	if prev < 0 {
		prev = 0
	}
	return Pagination{
		Skip:    p.Skip,
		Limit:   p.Limit,
		Count:   count,
		HasPrev: p.Skip > 0,
		HasNext: count == p.Limit,
		Prev:    prev,
		Next:    p.Skip + p.Limit,
	}
}

// DashboardPageData is the template data for the dashboard.
type DashboardPageData struct {
	PageData
	Stats session.DashboardStats
}

// GenesPageData is the template data for the gene list page.
type GenesPageData struct {
	PageData
	Items      []entity.Gene
	Pagination Pagination
	Status     string
	Statuses   []entity.GeneStatus
}

// GenePageData is the template data for the gene detail page.
type GenePageData struct {
	PageData
	Gene           entity.Gene
	Description    template.HTML
	Implementation template.HTML
	Statuses       []entity.GeneStatus
}

// CapsulesPageData is the template data for the capsule list page.
type CapsulesPageData struct {
	PageData
	Items      []entity.Capsule
	Pagination Pagination
}

// CapsulePageData is the template data for the capsule detail page.
type CapsulePageData struct {
	PageData
	Detail       session.CapsuleDetail
	Description  template.HTML
	InputSchema  string
	OutputSchema string
}

// EventsPageData is the template data for the event list page.
type EventsPageData struct {
	PageData
	Items      []entity.Event
	Pagination Pagination
	EventType  string
	CapsuleID  string
	EventTypes []entity.EventType
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Code       string
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    *slog.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"add":        func(a, b int) int { return a + b },
		"formatTime": formatTime,
		"percent":    func(g entity.Gene) string { return fmt.Sprintf("%.1f%%", g.SuccessPercent()) },
		"join":       strings.Join,
		"deref":      deref,
		"hasValue":   hasValue,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"dashboard": "dashboard.html",
		"genes":     "genes.html",
		"gene":      "gene.html",
		"capsules":  "capsules.html",
		"capsule":   "capsule.html",
		"events":    "events.html",
		"error":     "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logger,
	}
}

func (r *Renderer) page(title, nav string) PageData {
	return PageData{Title: title, Version: r.version, Nav: nav}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For htmx requests, only the "content" block is rendered.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if req != nil && isHTMX(req) {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		r.logger.Error("template not found", "template", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		r.logger.Error("template execution failed", "template", page, "block", block, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	appErr := errors.As(err)
	if appErr == nil {
		appErr = errors.NewInternal(err)
	}

	status := appErr.Status
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	message := appErr.Message
	if status >= 500 {
		r.logger.Warn("request failed", "path", req.URL.Path, "code", appErr.Code, "error", err)
	}

	if isHTMX(req) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(appErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData:   r.page(fmt.Sprintf("Error %d", status), ""),
		StatusCode: status,
		Code:       string(appErr.Code),
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
// Raw HTML in the source is escaped by goldmark's default renderer.
func renderMarkdown(md *string) template.HTML {
	if md == nil || *md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(*md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(*md))
	}
	return template.HTML(buf.String())
}

// prettyJSON indents an opaque document for display.
func prettyJSON(raw json.RawMessage) string {
	if !entity.Present(raw) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// formatTime formats an RFC 3339 timestamp as "2006-01-02 15:04" UTC.
// Unparseable values are shown as received.
func formatTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// deref dereferences a pointer, returning the zero value if nil.
func deref(v any) any {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Zero(rv.Type().Elem()).Interface()
		}
		return rv.Elem().Interface()
	}
	return v
}

// hasValue checks if a pointer value is non-nil.
func hasValue(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return !rv.IsNil()
	}
	return true
}
