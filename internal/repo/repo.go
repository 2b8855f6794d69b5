// Package repo exposes typed list/get/create/update/delete operations per
// entity kind on top of the transport adapter.
package repo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
)

// Pagination bounds accepted by the remote service.
const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Transport is the subset of transport.Client the repository needs.
type Transport interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

// Repository issues remote reads and writes. It holds no state besides the
// transport and is safe for concurrent use.
type Repository struct {
	t Transport
}

// New creates a Repository.
func New(t Transport) *Repository {
	return &Repository{t: t}
}

// ListParams selects a page of records. Filter fields only apply to the
// kinds that support them: Status to genes, EventType and CapsuleID to events.
type ListParams struct {
	Skip  int
	Limit int

	Status    entity.GeneStatus
	EventType entity.EventType
	CapsuleID string
}

// Normalize fills defaults and rejects out-of-range values or filters the
// kind does not support.
func (p ListParams) Normalize(kind entity.Kind) (ListParams, error) {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Skip < 0 {
		return p, errors.NewInvalidRequest("skip must be non-negative")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, errors.NewInvalidRequest(fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	p.CapsuleID = strings.TrimSpace(p.CapsuleID)

	if p.Status != "" {
		if kind != entity.KindGene {
			return p, errors.NewInvalidRequest(fmt.Sprintf("status filter is not supported for %s", kind))
		}
		if !p.Status.Valid() {
			return p, errors.NewInvalidRequest(fmt.Sprintf("unknown gene status %q", p.Status))
		}
	}
	if (p.EventType != "" || p.CapsuleID != "") && kind != entity.KindEvent {
		return p, errors.NewInvalidRequest(fmt.Sprintf("event filters are not supported for %s", kind))
	}
	if p.EventType != "" && !p.EventType.Valid() {
		return p, errors.NewInvalidRequest(fmt.Sprintf("unknown event type %q", p.EventType))
	}
	return p, nil
}

// Values encodes p as query parameters. Empty filters are omitted.
func (p ListParams) Values() url.Values {
	v := url.Values{}
	v.Set("skip", strconv.Itoa(p.Skip))
	v.Set("limit", strconv.Itoa(p.Limit))
	if p.Status != "" {
		v.Set("status", string(p.Status))
	}
	if p.EventType != "" {
		v.Set("event_type", string(p.EventType))
	}
	if p.CapsuleID != "" {
		v.Set("capsule_id", p.CapsuleID)
	}
	return v
}

// ParseListParams is the inverse of Values.
func ParseListParams(v url.Values) (ListParams, error) {
	var p ListParams
	var err error
	if s := v.Get("skip"); s != "" {
		if p.Skip, err = strconv.Atoi(s); err != nil {
			return p, errors.NewInvalidRequest("skip must be an integer")
		}
	}
	if s := v.Get("limit"); s != "" {
		if p.Limit, err = strconv.Atoi(s); err != nil {
			return p, errors.NewInvalidRequest("limit must be an integer")
		}
	}
	p.Status = entity.GeneStatus(v.Get("status"))
	p.EventType = entity.EventType(v.Get("event_type"))
	p.CapsuleID = v.Get("capsule_id")
	return p, nil
}

func resourcePath(kind entity.Kind) string {
	return "/" + string(kind) + "s"
}

func itemPath(kind entity.Kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewInvalidRequest(fmt.Sprintf("%s id is required", kind))
	}
	return resourcePath(kind) + "/" + url.PathEscape(id), nil
}

// list fetches one page of kind into out.
func (r *Repository) list(ctx context.Context, kind entity.Kind, p ListParams, out any) error {
	p, err := p.Normalize(kind)
	if err != nil {
		return err
	}
	return r.t.Get(ctx, resourcePath(kind), p.Values(), out)
}

// get fetches one record of kind into out.
func (r *Repository) get(ctx context.Context, kind entity.Kind, id string, out any) error {
	path, err := itemPath(kind, id)
	if err != nil {
		return err
	}
	return r.t.Get(ctx, path, nil, out)
}

// remove deletes one record of kind.
func (r *Repository) remove(ctx context.Context, kind entity.Kind, id string) error {
	path, err := itemPath(kind, id)
	if err != nil {
		return err
	}
	return r.t.Delete(ctx, path)
}
