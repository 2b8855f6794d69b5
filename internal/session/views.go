package session

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/repo"
)

// RecentEvents is how many events the dashboard shows.
const RecentEvents = 5

// CapsuleDetail is a capsule with its gene references resolved.
type CapsuleDetail struct {
	Capsule entity.Capsule `json:"capsule"`

	// Genes are the referenced genes that exist, in GeneIDs order
	Genes []entity.Gene `json:"genes"`

	// Missing are referenced ids with no matching gene
	Missing []string `json:"missing"`
}

// CapsuleDetail loads a capsule and the gene list concurrently and resolves
// the capsule's gene references against the list. Each referenced id appears
// once, in first-seen order. A dangling reference is reported in Missing,
// never as an error.
func (s *Session) CapsuleDetail(ctx context.Context, id string) (CapsuleDetail, error) {
	var (
		capsule entity.Capsule
		genes   []entity.Gene
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		capsule, err = s.Capsule(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		genes, err = s.Genes(gctx, repo.ListParams{})
		return err
	})
	if err := g.Wait(); err != nil {
		return CapsuleDetail{}, err
	}

	byID := make(map[string]entity.Gene, len(genes))
	for _, gene := range genes {
		byID[gene.ID] = gene
	}
	d := CapsuleDetail{
		Capsule: capsule,
		Genes:   []entity.Gene{},
		Missing: []string{},
	}
	seen := make(map[string]bool, len(capsule.GeneIDs))
	for _, gid := range capsule.GeneIDs {
		if seen[gid] {
			continue
		}
		seen[gid] = true
		if gene, ok := byID[gid]; ok {
			d.Genes = append(d.Genes, gene)
		} else {
			d.Missing = append(d.Missing, gid)
		}
	}
	return d, nil
}

// DashboardStats summarizes the first page of every kind.
type DashboardStats struct {
	TotalGenes     int            `json:"total_genes"`
	ValidatedGenes int            `json:"validated_genes"`
	Capsules       int            `json:"capsules"`
	Events         int            `json:"events"`
	RecentEvents   []entity.Event `json:"recent_events"`
}

// Dashboard loads genes, capsules and events concurrently and summarizes
// them. RecentEvents holds the newest events first.
func (s *Session) Dashboard(ctx context.Context) (DashboardStats, error) {
	var (
		genes    []entity.Gene
		capsules []entity.Capsule
		events   []entity.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		genes, err = s.Genes(gctx, repo.ListParams{})
		return err
	})
	g.Go(func() (err error) {
		capsules, err = s.Capsules(gctx, repo.ListParams{})
		return err
	})
	g.Go(func() (err error) {
		events, err = s.Events(gctx, repo.ListParams{})
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{
		TotalGenes: len(genes),
		Capsules:   len(capsules),
		Events:     len(events),
	}
	for _, gene := range genes {
		if gene.Status == entity.GeneValidated {
			stats.ValidatedGenes++
		}
	}

	recent := slices.Clone(events)
	slices.SortStableFunc(recent, func(a, b entity.Event) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	if len(recent) > RecentEvents {
		recent = recent[:RecentEvents]
	}
	if recent == nil {
		recent = []entity.Event{}
	}
	stats.RecentEvents = recent
	return stats, nil
}
