package repo

import (
	"context"

	"github.com/hpungsan/gepdash/internal/entity"
)

// ListCapsules returns one page of capsules.
func (r *Repository) ListCapsules(ctx context.Context, p ListParams) ([]entity.Capsule, error) {
	var out []entity.Capsule
	if err := r.list(ctx, entity.KindCapsule, p, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Capsule{}
	}
	return out, nil
}

// GetCapsule returns a single capsule.
func (r *Repository) GetCapsule(ctx context.Context, id string) (*entity.Capsule, error) {
	var out entity.Capsule
	if err := r.get(ctx, entity.KindCapsule, id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCapsule creates a capsule and returns the stored record. Unknown
// gene ids are dropped by the remote, so the returned GeneIDs may be shorter
// than the request.
func (r *Repository) CreateCapsule(ctx context.Context, in entity.CapsuleCreate) (*entity.Capsule, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out entity.Capsule
	if err := r.t.Post(ctx, resourcePath(entity.KindCapsule), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCapsule applies a partial update and returns the stored record.
func (r *Repository) UpdateCapsule(ctx context.Context, id string, in entity.CapsuleUpdate) (*entity.Capsule, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	path, err := itemPath(entity.KindCapsule, id)
	if err != nil {
		return nil, err
	}
	var out entity.Capsule
	if err := r.t.Put(ctx, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCapsule deletes a capsule. The remote deletes its events with it.
func (r *Repository) DeleteCapsule(ctx context.Context, id string) error {
	return r.remove(ctx, entity.KindCapsule, id)
}
