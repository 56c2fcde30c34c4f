package law

import (
	"time"

	"github.com/google/uuid"
)

// Law is the canonical legal instrument one or more regulation events
// refer to. Rows are derived: backfill rebuilds them from events.
type Law struct {
	ID                  int64   `json:"id"`
	LawKey              string  `json:"law_key"`
	LawName             string  `json:"law_name"`
	JurisdictionCountry string  `json:"jurisdiction_country"`
	JurisdictionState   *string `json:"jurisdiction_state,omitempty"`
	LawType             string  `json:"law_type"`
	Stage               string  `json:"stage"`
	Status              string  `json:"status"`

	FirstSeenAt         time.Time `json:"first_seen_at"`
	LastSeenAt          time.Time `json:"last_seen_at"`
	LatestEffectiveDate *string   `json:"latest_effective_date,omitempty"`

	AggregateRiskMax            float64 `json:"aggregate_risk_max"`
	AggregateRiskRecentWeighted float64 `json:"aggregate_risk_recent_weighted"`
	AggregateRiskOverall        float64 `json:"aggregate_risk_overall"`
	SourceConfidence            float64 `json:"source_confidence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update is one event's contribution to a law, snapshotted at backfill
// time. RawMetadata is an opaque JSON blob parsed only at the read
// boundary.
type Update struct {
	ID              int64     `json:"id"`
	LawID           int64     `json:"law_id"`
	EventID         uuid.UUID `json:"event_id"`
	Title           string    `json:"title"`
	Stage           string    `json:"stage"`
	Summary         string    `json:"summary"`
	BusinessImpact  string    `json:"business_impact"`
	ImpactScore     int       `json:"impact_score"`
	LikelihoodScore int       `json:"likelihood_score"`
	ConfidenceScore int       `json:"confidence_score"`
	ChiliScore      int       `json:"chili_score"`
	PublishedDate   *string   `json:"published_date,omitempty"`
	EffectiveDate   *string   `json:"effective_date,omitempty"`
	SourceURLLink   string    `json:"source_url_link"`
	RawMetadata     string    `json:"raw_metadata"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecencyWeight maps the age of an observation to its weight in the
// recent-weighted risk aggregate.
func RecencyWeight(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days <= 30:
		return 1.0
	case days <= 90:
		return 0.9
	case days <= 180:
		return 0.8
	case days <= 365:
		return 0.65
	case days <= 730:
		return 0.5
	default:
		return 0.35
	}
}

// OverallRisk blends the four scores of a single observation.
func OverallRisk(chili, impact, likelihood, confidence int) float64 {
	return 0.4*float64(chili) + 0.3*float64(impact) + 0.2*float64(likelihood) + 0.1*float64(confidence)
}
