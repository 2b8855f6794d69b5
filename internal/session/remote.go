package session

import (
	"context"
	"fmt"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/mutation"
	"github.com/hpungsan/gepdash/internal/query"
	"github.com/hpungsan/gepdash/internal/repo"
)

// loader resolves cache keys through the repository. Cached values are
// entity values (never pointers) so readers cannot mutate shared state.
type loader struct {
	repo *repo.Repository
}

func (l loader) Load(ctx context.Context, key query.Key) (any, error) {
	switch key.Op {
	case query.OpList:
		p, err := repo.ParseListParams(key.Values())
		if err != nil {
			return nil, err
		}
		switch key.Kind {
		case entity.KindGene:
			return l.repo.ListGenes(ctx, p)
		case entity.KindCapsule:
			return l.repo.ListCapsules(ctx, p)
		case entity.KindEvent:
			return l.repo.ListEvents(ctx, p)
		}

	case query.OpGet:
		id := key.Param("id")
		switch key.Kind {
		case entity.KindGene:
			g, err := l.repo.GetGene(ctx, id)
			if err != nil {
				return nil, err
			}
			return *g, nil
		case entity.KindCapsule:
			c, err := l.repo.GetCapsule(ctx, id)
			if err != nil {
				return nil, err
			}
			return *c, nil
		case entity.KindEvent:
			e, err := l.repo.GetEvent(ctx, id)
			if err != nil {
				return nil, err
			}
			return *e, nil
		}
	}
	return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported query %s", key))
}

// writer performs coordinator writes through the repository.
type writer struct {
	repo *repo.Repository
}

func (w writer) Write(ctx context.Context, m mutation.Mutation) (mutation.Result, error) {
	switch m.Kind {
	case entity.KindGene:
		return w.writeGene(ctx, m)
	case entity.KindCapsule:
		return w.writeCapsule(ctx, m)
	case entity.KindEvent:
		return w.writeEvent(ctx, m)
	}
	return mutation.Result{}, errors.NewInvalidRequest(fmt.Sprintf("unknown kind %q", m.Kind))
}

func (w writer) writeGene(ctx context.Context, m mutation.Mutation) (mutation.Result, error) {
	switch m.Op {
	case mutation.OpCreate:
		in, ok := m.Payload.(entity.GeneCreate)
		if !ok {
			return mutation.Result{}, badPayload(m)
		}
		g, err := w.repo.CreateGene(ctx, in)
		if err != nil {
			return mutation.Result{}, err
		}
		return mutation.Result{ID: g.ID, Record: *g}, nil

	case mutation.OpUpdate:
		in, ok := m.Payload.(entity.GeneUpdate)
		if !ok {
			return mutation.Result{}, badPayload(m)
		}
		g, err := w.repo.UpdateGene(ctx, m.ID, in)
		if err != nil {
			return mutation.Result{}, err
		}
		return mutation.Result{ID: g.ID, Record: *g}, nil

	case mutation.OpDelete:
		return mutation.Result{ID: m.ID}, w.repo.DeleteGene(ctx, m.ID)
	}
	return mutation.Result{}, badPayload(m)
}

func (w writer) writeCapsule(ctx context.Context, m mutation.Mutation) (mutation.Result, error) {
	switch m.Op {
	case mutation.OpCreate:
		in, ok := m.Payload.(entity.CapsuleCreate)
		if !ok {
			return mutation.Result{}, badPayload(m)
		}
		c, err := w.repo.CreateCapsule(ctx, in)
		if err != nil {
			return mutation.Result{}, err
		}
		return mutation.Result{ID: c.ID, Record: *c}, nil

	case mutation.OpUpdate:
		in, ok := m.Payload.(entity.CapsuleUpdate)
		if !ok {
			return mutation.Result{}, badPayload(m)
		}
		c, err := w.repo.UpdateCapsule(ctx, m.ID, in)
		if err != nil {
			return mutation.Result{}, err
		}
		return mutation.Result{ID: c.ID, Record: *c}, nil

	case mutation.OpDelete:
		return mutation.Result{ID: m.ID}, w.repo.DeleteCapsule(ctx, m.ID)
	}
	return mutation.Result{}, badPayload(m)
}

func (w writer) writeEvent(ctx context.Context, m mutation.Mutation) (mutation.Result, error) {
	in, ok := m.Payload.(entity.EventCreate)
	if !ok || m.Op != mutation.OpCreate {
		return mutation.Result{}, badPayload(m)
	}
	e, err := w.repo.CreateEvent(ctx, in)
	if err != nil {
		return mutation.Result{}, err
	}
	return mutation.Result{ID: e.ID, Record: *e}, nil
}

func badPayload(m mutation.Mutation) error {
	return errors.NewInvalidRequest(fmt.Sprintf("unsupported %s %s payload %T", m.Kind, m.Op, m.Payload))
}
