package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetentionScanner selects soft-deleted entities old enough to purge,
// and previews the blast radius of purging them. It performs no
// mutation and is safe to call repeatedly from a scheduled job.
type RetentionScanner struct {
	store Store
	now   func() time.Time
}

// NewRetentionScanner creates a scanner over the given store.
func NewRetentionScanner(store Store) *RetentionScanner {
	return &RetentionScanner{
		store: store,
		now:   time.Now,
	}
}

// FindPurgeCandidates returns the ids of entities whose tombstone age
// meets or exceeds the retention period, oldest first. A retention of
// zero uses the default grace period.
func (s *RetentionScanner) FindPurgeCandidates(ctx context.Context, entityType EntityType, retention time.Duration) ([]Candidate, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	cutoff := s.now().Add(-retention)
	candidates, err := s.store.FindPurgeCandidates(ctx, entityType, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find purge candidates: %w", err)
	}

	log.Debug().
		Str("entity_type", string(entityType)).
		Dur("retention", retention).
		Int("candidates", len(candidates)).
		Msg("Scanned for purge candidates")

	return candidates, nil
}

// CandidateReport is the dry-run preview for one purge candidate: the
// exact row counts a purge would touch, grouped by behavior, with
// nothing mutated.
type CandidateReport struct {
	Candidate
	Counts BlastRadius
}

// BlastRadius previews the row counts a purge of one entity would
// touch, grouped by behavior.
func (s *RetentionScanner) BlastRadius(ctx context.Context, entityType EntityType, id int64) (BlastRadius, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	return s.store.CountDependents(ctx, entityType, id)
}

// Report computes a dry-run blast-radius report for every current purge
// candidate, so an operator can preview a sweep before committing to it.
func (s *RetentionScanner) Report(ctx context.Context, entityType EntityType, retention time.Duration) ([]CandidateReport, error) {
	candidates, err := s.FindPurgeCandidates(ctx, entityType, retention)
	if err != nil {
		return nil, err
	}

	reports := make([]CandidateReport, 0, len(candidates))
	for _, c := range candidates {
		counts, err := s.store.CountDependents(ctx, entityType, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count dependents of %s %d: %w", entityType, c.ID, err)
		}
		reports = append(reports, CandidateReport{Candidate: c, Counts: counts})
	}

	return reports, nil
}
