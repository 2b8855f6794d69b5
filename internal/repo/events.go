package repo

import (
	"context"

	"github.com/hpungsan/gepdash/internal/entity"
)

// ListEvents returns one page of events, optionally filtered by type or capsule.
func (r *Repository) ListEvents(ctx context.Context, p ListParams) ([]entity.Event, error) {
	var out []entity.Event
	if err := r.list(ctx, entity.KindEvent, p, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Event{}
	}
	return out, nil
}

// GetEvent returns a single event.
func (r *Repository) GetEvent(ctx context.Context, id string) (*entity.Event, error) {
	var out entity.Event
	if err := r.get(ctx, entity.KindEvent, id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEvent records an event. Events cannot be updated or deleted.
func (r *Repository) CreateEvent(ctx context.Context, in entity.EventCreate) (*entity.Event, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out entity.Event
	if err := r.t.Post(ctx, resourcePath(entity.KindEvent), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
