package event

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxRawTextLen caps the stored raw_text of an event.
const MaxRawTextLen = 5000

// Stage is the lifecycle position of a regulation.
type Stage string

const (
	StageProposed        Stage = "proposed"
	StageIntroduced      Stage = "introduced"
	StageCommitteeReview Stage = "committee_review"
	StagePassed          Stage = "passed"
	StageEnacted         Stage = "enacted"
	StageEffective       Stage = "effective"
	StageAmended         Stage = "amended"
	StageWithdrawn       Stage = "withdrawn"
	StageRejected        Stage = "rejected"
)

var validStages = map[Stage]bool{
	StageProposed: true, StageIntroduced: true, StageCommitteeReview: true,
	StagePassed: true, StageEnacted: true, StageEffective: true,
	StageAmended: true, StageWithdrawn: true, StageRejected: true,
}

// ParseStage coerces s into the stage enum, defaulting to "proposed".
func ParseStage(s string) Stage {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if validStages[st] {
		return st
	}
	return StageProposed
}

func (s Stage) Valid() bool { return validStages[s] }

// AgeBracket identifies which minors a regulation applies to.
type AgeBracket string

const (
	Bracket13To15 AgeBracket = "13-15"
	Bracket16To18 AgeBracket = "16-18"
	BracketBoth   AgeBracket = "both"
)

// ParseAgeBracket coerces s into the bracket enum, defaulting to "both".
func ParseAgeBracket(s string) AgeBracket {
	switch AgeBracket(strings.TrimSpace(s)) {
	case Bracket13To15:
		return Bracket13To15
	case Bracket16To18:
		return Bracket16To18
	default:
		return BracketBoth
	}
}

func (b AgeBracket) Valid() bool {
	return b == Bracket13To15 || b == Bracket16To18 || b == BracketBoth
}

// Event is a single observed publication or update about a regulatory
// item. List-valued fields are stored as opaque JSON text and only
// parsed at the read boundary.
type Event struct {
	ID                  uuid.UUID  `json:"id"`
	Title               string     `json:"title"`
	JurisdictionCountry string     `json:"jurisdiction_country"`
	JurisdictionState   *string    `json:"jurisdiction_state,omitempty"`
	Stage               Stage      `json:"stage"`
	IsUnder16Applicable bool       `json:"is_under16_applicable"`
	AgeBracket          AgeBracket `json:"age_bracket"`

	ImpactScore     int `json:"impact_score"`
	LikelihoodScore int `json:"likelihood_score"`
	ConfidenceScore int `json:"confidence_score"`
	ChiliScore      int `json:"chili_score"`

	Summary        string `json:"summary"`
	BusinessImpact string `json:"business_impact"`

	RequiredSolutions   string `json:"required_solutions"`
	AffectedProducts    string `json:"affected_products"`
	CompetitorResponses string `json:"competitor_responses"`

	RawText       string     `json:"raw_text"`
	SourceURLLink string     `json:"source_url_link"`
	EffectiveDate *string    `json:"effective_date,omitempty"`
	PublishedDate *string    `json:"published_date,omitempty"`
	SourceID      int64      `json:"source_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// New builds an event with a fresh UUID, coerced enums, clamped scores
// and capped raw text.
func New(title, country string) (*Event, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}
	if strings.TrimSpace(country) == "" {
		return nil, fmt.Errorf("jurisdiction country cannot be empty")
	}
	now := time.Now().UTC()
	return &Event{
		ID:                  uuid.New(),
		Title:               title,
		JurisdictionCountry: country,
		Stage:               StageProposed,
		AgeBracket:          BracketBoth,
		ImpactScore:         3,
		LikelihoodScore:     3,
		ConfidenceScore:     3,
		ChiliScore:          3,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Validate checks the invariants the store enforces before persisting.
func (e *Event) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if e.JurisdictionCountry == "" {
		return fmt.Errorf("jurisdiction country cannot be empty")
	}
	if !e.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if !e.AgeBracket.Valid() {
		return fmt.Errorf("unknown age bracket %q", e.AgeBracket)
	}
	for name, score := range map[string]int{
		"impact":     e.ImpactScore,
		"likelihood": e.LikelihoodScore,
		"confidence": e.ConfidenceScore,
		"chili":      e.ChiliScore,
	} {
		if score < 1 || score > 5 {
			return fmt.Errorf("%s score %d out of range [1..5]", name, score)
		}
	}
	if len(e.RawText) > MaxRawTextLen {
		return fmt.Errorf("raw text exceeds %d characters", MaxRawTextLen)
	}
	return nil
}

// ClampScore coerces an arbitrary numeric value into [1..5], rounding
// half up. Non-finite values fall back to 3.
func ClampScore(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 3
	}
	n := int(math.Floor(v + 0.5))
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

// TruncateRawText caps text at MaxRawTextLen, backing off to a rune
// boundary so a multi-byte character is never split at the cap.
func TruncateRawText(text string) string {
	return truncateAtRune(text, MaxRawTextLen)
}

func truncateAtRune(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// RegulationKey is the logical identity of an event within its
// jurisdiction: lower(country)|lower(state)|lower(title).
func RegulationKey(country string, state *string, title string) string {
	st := ""
	if state != nil {
		st = *state
	}
	return strings.ToLower(country) + "|" + strings.ToLower(st) + "|" + strings.ToLower(title)
}

// Key returns the event's regulation key.
func (e *Event) Key() string {
	return RegulationKey(e.JurisdictionCountry, e.JurisdictionState, e.Title)
}

// NormalizeURL lowercases and trims a source URL for dedup comparison.
func NormalizeURL(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

var wsRun = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// ContentHash is the sha1 of whitespace-collapsed, lowercased text.
// Not cryptographic; collision-resistant enough for content identity
// within this corpus.
func ContentHash(text string) string {
	collapsed := strings.Join(strings.Fields(wsRun.Replace(strings.ToLower(text))), " ")
	sum := sha1.Sum([]byte(collapsed))
	return hex.EncodeToString(sum[:])
}

// ReferenceDate picks the date that best represents when the event was
// observed: published, else effective, else updated, else created.
func (e *Event) ReferenceDate() time.Time {
	if t, ok := parseDate(e.PublishedDate); ok {
		return t
	}
	if t, ok := parseDate(e.EffectiveDate); ok {
		return t
	}
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	return e.CreatedAt
}

func parseDate(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
