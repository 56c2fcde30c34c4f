// Package analysis turns crawled items into structured regulation
// events via an external LLM, validating and clamping everything at
// the boundary.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
)

// maxPromptText caps how much of an item's text goes to the model.
const maxPromptText = 8 * 1024

const analystPrompt = `You are a regulatory intelligence analyst tracking laws and regulations that affect minors (under 18) using online platforms. Analyze the following crawled item and decide whether it describes a concrete regulatory development about child or teen online safety, privacy, or age verification.

Respond with a single JSON object and nothing else:
{
  "relevant": true|false,
  "title": "concise event title",
  "jurisdiction_country": "country name",
  "jurisdiction_state": "state or region, or null",
  "stage": "proposed|introduced|committee_review|passed|enacted|effective|amended|withdrawn|rejected",
  "is_under16_applicable": true|false,
  "age_bracket": "13-15|16-18|both",
  "impact_score": 1-5,
  "likelihood_score": 1-5,
  "confidence_score": 1-5,
  "chili_score": 1-5,
  "summary": "2-3 sentence summary",
  "business_impact": "what platforms must do",
  "required_solutions": ["..."],
  "affected_products": ["..."],
  "competitor_responses": ["..."],
  "effective_date": "YYYY-MM-DD or null",
  "published_date": "YYYY-MM-DD or null"
}

If the item is not about regulation affecting minors online, respond {"relevant": false}.`

// Result is the validated analyzer output for one item. List fields
// are kept as opaque JSON text for the store.
type Result struct {
	Relevant bool

	Title               string
	JurisdictionCountry string
	JurisdictionState   *string
	Stage               event.Stage
	IsUnder16Applicable bool
	AgeBracket          event.AgeBracket

	ImpactScore     int
	LikelihoodScore int
	ConfidenceScore int
	ChiliScore      int

	Summary             string
	BusinessImpact      string
	RequiredSolutions   string
	AffectedProducts    string
	CompetitorResponses string

	EffectiveDate *string
	PublishedDate *string
}

// Analyzer calls the LLM endpoint per item.
type Analyzer struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

func NewAnalyzer(cfg config.AnthropicConfig, logger *slog.Logger) *Analyzer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Analyzer{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

// Analyze sends one item to the model. A transport or API failure
// returns an error and the item is skipped; an unparsable or
// explicitly irrelevant response returns Result{Relevant: false}.
func (a *Analyzer) Analyze(ctx context.Context, item crawl.Item) (*Result, error) {
	text := item.Text
	if len(text) > maxPromptText {
		cut := maxPromptText
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	userContent := fmt.Sprintf("%s\n\nSource: %s\nURL: %s\nTitle: %s\n\n%s",
		analystPrompt, item.Source.Name, item.URL, item.Title, text)

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userContent)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer request: %w", err)
	}
	if len(message.Content) == 0 {
		return nil, fmt.Errorf("analyzer returned empty content")
	}

	return parseResponse(message.Content[0].Text), nil
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseResponse normalizes the model's reply. Anything that cannot be
// coerced into a relevant analysis collapses to the irrelevant
// sentinel.
func parseResponse(text string) *Result {
	body := strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		start := strings.Index(body, "{")
		end := strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return &Result{Relevant: false}
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
			return &Result{Relevant: false}
		}
	}

	if relevant, ok := raw["relevant"].(bool); !ok || !relevant {
		return &Result{Relevant: false}
	}

	r := &Result{
		Relevant:            true,
		Title:               asString(raw["title"]),
		JurisdictionCountry: asString(raw["jurisdiction_country"]),
		JurisdictionState:   asStringPtr(raw["jurisdiction_state"]),
		Stage:               event.ParseStage(asString(raw["stage"])),
		IsUnder16Applicable: asBool(raw["is_under16_applicable"], true),
		AgeBracket:          event.ParseAgeBracket(asString(raw["age_bracket"])),
		ImpactScore:         coerceScore(raw["impact_score"]),
		LikelihoodScore:     coerceScore(raw["likelihood_score"]),
		ConfidenceScore:     coerceScore(raw["confidence_score"]),
		ChiliScore:          coerceScore(raw["chili_score"]),
		Summary:             asString(raw["summary"]),
		BusinessImpact:      asString(raw["business_impact"]),
		RequiredSolutions:   asJSONList(raw["required_solutions"]),
		AffectedProducts:    asJSONList(raw["affected_products"]),
		CompetitorResponses: asJSONList(raw["competitor_responses"]),
		EffectiveDate:       asStringPtr(raw["effective_date"]),
		PublishedDate:       asStringPtr(raw["published_date"]),
	}
	return r
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asStringPtr(v any) *string {
	s := asString(v)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func asBool(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

// coerceScore accepts numbers or numeric strings; everything else
// falls back to 3.
func coerceScore(v any) int {
	switch n := v.(type) {
	case float64:
		return event.ClampScore(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return event.ClampScore(f)
		}
	}
	return 3
}

// asJSONList re-encodes a list value as opaque JSON text, defaulting
// to an empty array.
func asJSONList(v any) string {
	list, ok := v.([]any)
	if !ok {
		return "[]"
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
