// Package backfill rebuilds the derived laws tables from the events
// table. The rebuild is destructive of the derived tables only and runs
// inside one transaction, so readers see the old state until commit.
package backfill

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/domain/law"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
	"github.com/regradar/regradar-backend/internal/infrastructure/telemetry"
	"github.com/regradar/regradar-backend/internal/metrics"
)

var tracer = telemetry.Tracer("regradar.backfill")

// Stats summarizes one rebuild.
type Stats struct {
	Laws             int `json:"laws"`
	LawUpdates       int `json:"law_updates"`
	MergedDuplicates int `json:"merged_duplicates"`
}

type Service struct {
	db      *sql.DB
	events  *repository.EventRepository
	laws    *repository.LawRepository
	sources *repository.SourceRepository
	logger  *slog.Logger
	metrics *metrics.Registry
}

func NewService(db *sql.DB, logger *slog.Logger, m *metrics.Registry) *Service {
	return &Service{
		db:      db,
		events:  repository.NewEventRepository(db),
		laws:    repository.NewLawRepository(db),
		sources: repository.NewSourceRepository(db),
		logger:  logger,
		metrics: m,
	}
}

type member struct {
	event     *event.Event
	canonical law.Canonical
	refDate   time.Time
}

// Rebuild recomputes laws and law_updates from all events. Idempotent:
// running it twice in a row yields the same tables.
func (s *Service) Rebuild(ctx context.Context) (stats Stats, err error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "backfill.rebuild")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backfill failed")
		} else {
			span.SetAttributes(
				attribute.Int("laws", stats.Laws),
				attribute.Int("law_updates", stats.LawUpdates))
		}
		span.End()
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("beginning backfill transaction: %w", err)
	}
	defer tx.Rollback()

	events, err := s.events.WithTx(tx).All(ctx)
	if err != nil {
		return Stats{}, err
	}
	tiers, err := s.sources.WithTx(tx).TiersByID(ctx)
	if err != nil {
		return Stats{}, err
	}

	lawRepo := s.laws.WithTx(tx)
	if err := lawRepo.TruncateDerived(ctx); err != nil {
		return Stats{}, err
	}

	groups := map[string][]member{}
	for _, e := range events {
		c := law.Infer(law.CanonicalInput{
			Title:               e.Title,
			Summary:             e.Summary,
			Content:             e.RawText,
			JurisdictionCountry: e.JurisdictionCountry,
			JurisdictionState:   e.JurisdictionState,
		})
		groups[c.LawKey] = append(groups[c.LawKey], member{
			event:     e,
			canonical: c,
			refDate:   e.ReferenceDate(),
		})
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		members := groups[key]
		n, err := s.writeGroup(ctx, lawRepo, key, members, tiers)
		if err != nil {
			return Stats{}, err
		}
		stats.Laws++
		stats.LawUpdates += n
		stats.MergedDuplicates += len(members) - 1
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("committing backfill: %w", err)
	}

	s.metrics.LawsTracked.Set(float64(stats.Laws))
	s.metrics.BackfillDuration.Observe(time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "law backfill complete",
		"laws", stats.Laws, "law_updates", stats.LawUpdates,
		"merged_duplicates", stats.MergedDuplicates,
		"duration", time.Since(start))
	return stats, nil
}

func (s *Service) writeGroup(ctx context.Context, lawRepo *repository.LawRepository, key string, members []member, tiers map[int64]int) (int, error) {
	// Newest first; the leading member drives stage and jurisdiction.
	sort.Slice(members, func(i, j int) bool {
		return members[i].refDate.After(members[j].refDate)
	})
	latest := members[0]

	name := latest.canonical.LawName
	bestScore := law.ScoreName(name)
	lawType := "law"
	for _, m := range members {
		if sc := law.ScoreName(m.canonical.LawName); sc > bestScore ||
			(sc == bestScore && len(m.canonical.LawName) < len(name)) {
			name = m.canonical.LawName
			bestScore = sc
		}
		lawType = law.MoreSpecificType(lawType, m.canonical.LawType)
	}

	now := time.Now().UTC()
	firstSeen := members[len(members)-1].refDate
	lastSeen := time.Time{}
	var latestEffective *string
	riskMax := 0.0
	weightedSum, weightTotal := 0.0, 0.0
	overallSum := 0.0
	tierSum := 0

	for _, m := range members {
		e := m.event
		if e.UpdatedAt.After(lastSeen) {
			lastSeen = e.UpdatedAt
		}
		if m.refDate.After(lastSeen) {
			lastSeen = m.refDate
		}
		if m.refDate.Before(firstSeen) {
			firstSeen = m.refDate
		}
		if e.EffectiveDate != nil && *e.EffectiveDate != "" {
			if latestEffective == nil || *e.EffectiveDate > *latestEffective {
				latestEffective = e.EffectiveDate
			}
		}
		if c := float64(e.ChiliScore); c > riskMax {
			riskMax = c
		}
		w := law.RecencyWeight(now.Sub(m.refDate))
		weightedSum += float64(e.ChiliScore) * w
		weightTotal += w
		overallSum += law.OverallRisk(e.ChiliScore, e.ImpactScore, e.LikelihoodScore, e.ConfidenceScore)

		tier, ok := tiers[e.SourceID]
		if !ok {
			tier = 3
		}
		tierSum += tier
	}

	recentWeighted := riskMax
	if weightTotal > 0 {
		recentWeighted = weightedSum / weightTotal
	}

	l := &law.Law{
		LawKey:                      key,
		LawName:                     name,
		JurisdictionCountry:         latest.event.JurisdictionCountry,
		JurisdictionState:           latest.event.JurisdictionState,
		LawType:                     lawType,
		Stage:                       string(latest.event.Stage),
		Status:                      "active",
		FirstSeenAt:                 firstSeen,
		LastSeenAt:                  lastSeen,
		LatestEffectiveDate:         latestEffective,
		AggregateRiskMax:            riskMax,
		AggregateRiskRecentWeighted: recentWeighted,
		AggregateRiskOverall:        overallSum / float64(len(members)),
		SourceConfidence:            float64(tierSum) / float64(len(members)),
	}
	lawID, err := lawRepo.Insert(ctx, l)
	if err != nil {
		return 0, err
	}

	for _, m := range members {
		e := m.event
		meta, err := json.Marshal(map[string]any{
			"age_bracket":          string(e.AgeBracket),
			"jurisdiction_country": e.JurisdictionCountry,
			"jurisdiction_state":   e.JurisdictionState,
			"source_id":            e.SourceID,
			"law_identifier":       m.canonical.LawIdentifier,
		})
		if err != nil {
			return 0, fmt.Errorf("encoding raw metadata: %w", err)
		}
		if err := lawRepo.InsertUpdate(ctx, &law.Update{
			LawID:           lawID,
			EventID:         e.ID,
			Title:           e.Title,
			Stage:           string(e.Stage),
			Summary:         e.Summary,
			BusinessImpact:  e.BusinessImpact,
			ImpactScore:     e.ImpactScore,
			LikelihoodScore: e.LikelihoodScore,
			ConfidenceScore: e.ConfidenceScore,
			ChiliScore:      e.ChiliScore,
			SourceURLLink:   e.SourceURLLink,
			EffectiveDate:   e.EffectiveDate,
			PublishedDate:   e.PublishedDate,
			RawMetadata:     string(meta),
		}); err != nil {
			return 0, err
		}
	}
	return len(members), nil
}
