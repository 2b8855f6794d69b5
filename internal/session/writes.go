package session

import (
	"context"
	"fmt"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/mutation"
)

// Mutate runs an arbitrary write through the coordinator.
func (s *Session) Mutate(ctx context.Context, m mutation.Mutation) (mutation.Result, error) {
	return s.coord.Mutate(ctx, m)
}

// CreateGene creates a gene.
func (s *Session) CreateGene(ctx context.Context, in entity.GeneCreate) (entity.Gene, error) {
	return mutate[entity.Gene](ctx, s, mutation.Mutation{Kind: entity.KindGene, Op: mutation.OpCreate, Payload: in})
}

// UpdateGene updates the set fields of a gene.
func (s *Session) UpdateGene(ctx context.Context, id string, in entity.GeneUpdate) (entity.Gene, error) {
	return mutate[entity.Gene](ctx, s, mutation.Mutation{Kind: entity.KindGene, Op: mutation.OpUpdate, ID: id, Payload: in})
}

// SetGeneStatus moves a gene to status, e.g. validated or deprecated.
func (s *Session) SetGeneStatus(ctx context.Context, id string, status entity.GeneStatus) (entity.Gene, error) {
	if !status.Valid() {
		return entity.Gene{}, errors.NewInvalidRequest(fmt.Sprintf("unknown gene status %q", status))
	}
	return s.UpdateGene(ctx, id, entity.GeneUpdate{Status: &status})
}

// DeleteGene deletes a gene. Capsules that referenced it are invalidated.
func (s *Session) DeleteGene(ctx context.Context, id string) error {
	_, err := s.coord.Mutate(ctx, mutation.Mutation{Kind: entity.KindGene, Op: mutation.OpDelete, ID: id})
	return err
}

// CreateCapsule creates a capsule.
func (s *Session) CreateCapsule(ctx context.Context, in entity.CapsuleCreate) (entity.Capsule, error) {
	return mutate[entity.Capsule](ctx, s, mutation.Mutation{Kind: entity.KindCapsule, Op: mutation.OpCreate, Payload: in})
}

// UpdateCapsule updates the set fields of a capsule.
func (s *Session) UpdateCapsule(ctx context.Context, id string, in entity.CapsuleUpdate) (entity.Capsule, error) {
	return mutate[entity.Capsule](ctx, s, mutation.Mutation{Kind: entity.KindCapsule, Op: mutation.OpUpdate, ID: id, Payload: in})
}

// DeleteCapsule deletes a capsule and, remotely, its events.
func (s *Session) DeleteCapsule(ctx context.Context, id string) error {
	_, err := s.coord.Mutate(ctx, mutation.Mutation{Kind: entity.KindCapsule, Op: mutation.OpDelete, ID: id})
	return err
}

// CreateEvent records an event.
func (s *Session) CreateEvent(ctx context.Context, in entity.EventCreate) (entity.Event, error) {
	return mutate[entity.Event](ctx, s, mutation.Mutation{Kind: entity.KindEvent, Op: mutation.OpCreate, Payload: in})
}

func mutate[T any](ctx context.Context, s *Session, m mutation.Mutation) (T, error) {
	var zero T
	res, err := s.coord.Mutate(ctx, m)
	if err != nil {
		return zero, err
	}
	out, ok := res.Record.(T)
	if !ok {
		return zero, errors.NewInternal(fmt.Errorf("%s %s returned %T", m.Kind, m.Op, res.Record))
	}
	return out, nil
}
