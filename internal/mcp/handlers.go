package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/repo"
	"github.com/hpungsan/gepdash/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sess *session.Session
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sess *session.Session) *Handlers {
	return &Handlers{sess: sess}
}

// Request types for each tool

// PageRequest holds the paging arguments shared by list tools.
type PageRequest struct {
	Skip  int `json:"skip,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func (p PageRequest) params() repo.ListParams {
	return repo.ListParams{Skip: p.Skip, Limit: p.Limit}
}

// GeneListRequest represents the arguments for gene_list.
type GeneListRequest struct {
	PageRequest
	Status entity.GeneStatus `json:"status,omitempty"`
}

// EventListRequest represents the arguments for event_list.
type EventListRequest struct {
	PageRequest
	EventType entity.EventType `json:"event_type,omitempty"`
	CapsuleID string           `json:"capsule_id,omitempty"`
}

// IDRequest represents the arguments for get and delete tools.
type IDRequest struct {
	ID string `json:"id"`
}

// GeneUpdateRequest represents the arguments for gene_update.
type GeneUpdateRequest struct {
	ID string `json:"id"`
	entity.GeneUpdate
}

// DeleteResult is returned by delete tools.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// ListResult wraps list tool output.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listResult[T any](items []T) ListResult[T] {
	return ListResult[T]{Items: items, Count: len(items)}
}

// Handler implementations

// HandleGeneList handles the gene_list tool call.
func (h *Handlers) HandleGeneList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GeneListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	p := input.params()
	p.Status = input.Status
	genes, err := h.sess.Genes(ctx, p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(listResult(genes))
}

// HandleGeneGet handles the gene_get tool call.
func (h *Handlers) HandleGeneGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	gene, err := h.sess.Gene(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(gene)
}

// HandleGeneCreate handles the gene_create tool call.
func (h *Handlers) HandleGeneCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[entity.GeneCreate](req)
	if err != nil {
		return errorResult(err), nil
	}

	gene, err := h.sess.CreateGene(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(gene)
}

// HandleGeneUpdate handles the gene_update tool call.
func (h *Handlers) HandleGeneUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GeneUpdateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	gene, err := h.sess.UpdateGene(ctx, input.ID, input.GeneUpdate)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(gene)
}

// HandleGeneDelete handles the gene_delete tool call.
func (h *Handlers) HandleGeneDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if err := h.sess.DeleteGene(ctx, input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(DeleteResult{Deleted: true, ID: input.ID})
}

// HandleCapsuleList handles the capsule_list tool call.
func (h *Handlers) HandleCapsuleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PageRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	capsules, err := h.sess.Capsules(ctx, input.params())
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(listResult(capsules))
}

// HandleCapsuleGet handles the capsule_get tool call.
func (h *Handlers) HandleCapsuleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	detail, err := h.sess.CapsuleDetail(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(detail)
}

// HandleCapsuleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCapsuleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[entity.CapsuleCreate](req)
	if err != nil {
		return errorResult(err), nil
	}

	capsule, err := h.sess.CreateCapsule(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(capsule)
}

// HandleCapsuleDelete handles the capsule_delete tool call.
func (h *Handlers) HandleCapsuleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if err := h.sess.DeleteCapsule(ctx, input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(DeleteResult{Deleted: true, ID: input.ID})
}

// HandleEventList handles the event_list tool call.
func (h *Handlers) HandleEventList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EventListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	p := input.params()
	p.EventType = input.EventType
	p.CapsuleID = input.CapsuleID
	events, err := h.sess.Events(ctx, p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(listResult(events))
}

// HandleEventCreate handles the event_create tool call.
func (h *Handlers) HandleEventCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[entity.EventCreate](req)
	if err != nil {
		return errorResult(err), nil
	}

	event, err := h.sess.CreateEvent(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(event)
}

// HandleDashboardStats handles the dashboard_stats tool call.
func (h *Handlers) HandleDashboardStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.sess.Dashboard(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(stats)
}

// errorResult creates an MCP error result. Details are omitted for INTERNAL
// errors so remote bodies and Go error strings do not leak to the caller.
func errorResult(err error) *mcp.CallToolResult {
	appErr := errors.As(err)
	if appErr == nil {
		appErr = errors.NewInternal(err)
	}

	message := appErr.Message
	if wrapped := err.Error(); err != error(appErr) && strings.HasSuffix(wrapped, appErr.Error()) {
		// keep wrapper context such as "capsule c1: "
		message = strings.TrimSuffix(wrapped, appErr.Error()) + appErr.Message
	}

	errorObj := map[string]any{
		"code":    appErr.Code,
		"message": message,
		"status":  appErr.Status,
	}
	if appErr.Code != errors.ErrInternal && len(appErr.Details) > 0 {
		errorObj["details"] = appErr.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
