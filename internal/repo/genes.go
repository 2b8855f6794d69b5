package repo

import (
	"context"

	"github.com/hpungsan/gepdash/internal/entity"
)

// ListGenes returns one page of genes.
func (r *Repository) ListGenes(ctx context.Context, p ListParams) ([]entity.Gene, error) {
	var out []entity.Gene
	if err := r.list(ctx, entity.KindGene, p, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Gene{}
	}
	return out, nil
}

// GetGene returns a single gene.
func (r *Repository) GetGene(ctx context.Context, id string) (*entity.Gene, error) {
	var out entity.Gene
	if err := r.get(ctx, entity.KindGene, id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGene creates a gene and returns the stored record.
func (r *Repository) CreateGene(ctx context.Context, in entity.GeneCreate) (*entity.Gene, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out entity.Gene
	if err := r.t.Post(ctx, resourcePath(entity.KindGene), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateGene applies a partial update and returns the stored record.
func (r *Repository) UpdateGene(ctx context.Context, id string, in entity.GeneUpdate) (*entity.Gene, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	path, err := itemPath(entity.KindGene, id)
	if err != nil {
		return nil, err
	}
	var out entity.Gene
	if err := r.t.Put(ctx, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteGene deletes a gene.
func (r *Repository) DeleteGene(ctx context.Context, id string) error {
	return r.remove(ctx, entity.KindGene, id)
}
