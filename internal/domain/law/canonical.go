package law

import (
	"fmt"
	"regexp"
	"strings"
)

// CanonicalInput carries the observable fields inference runs over.
type CanonicalInput struct {
	Title               string
	Summary             string
	Content             string
	JurisdictionCountry string
	JurisdictionState   *string
}

// Canonical is the stable classification of an event's legal
// instrument. LawKey is deterministic in (jurisdiction, identifier).
type Canonical struct {
	LawName       string
	LawType       string
	LawIdentifier string
	LawKey        string
}

// Infer maps an event's text to its canonical law. Pure: same
// normalized inputs always yield the same key. Matching proceeds
// alias table, explicit law phrase, bill number, subject line — first
// match wins, checking title before summary before content.
func Infer(in CanonicalInput) Canonical {
	fields := []string{in.Title, in.Summary, in.Content}
	context := strings.Join(fields, " ") + " " + in.JurisdictionCountry
	if in.JurisdictionState != nil {
		context += " " + *in.JurisdictionState
	}

	for _, f := range fields {
		if f == "" {
			continue
		}
		if c, ok := matchAlias(f, context); ok {
			return finish(c, in)
		}
	}
	for _, f := range fields {
		if f == "" {
			continue
		}
		if c, ok := matchLawPhrase(f); ok {
			return finish(c, in)
		}
	}
	for _, f := range fields {
		if f == "" {
			continue
		}
		if id, ok := matchBillNumber(f); ok {
			return finish(Canonical{
				LawName:       id + " Bill",
				LawType:       "bill",
				LawIdentifier: id,
			}, in)
		}
	}
	return finish(subjectFallback(in.Title), in)
}

func finish(c Canonical, in CanonicalInput) Canonical {
	c.LawKey = Key(in.JurisdictionCountry, in.JurisdictionState, firstNonEmpty(c.LawIdentifier, c.LawName))
	return c
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// --- step 1: curated aliases ---

type aliasRule struct {
	pattern *regexp.Regexp
	resolve func(context string) (Canonical, bool)
}

var euContextRe = regexp.MustCompile(`(?i)\b(eu|european|commission|article\s*28|regulation|minors?)\b`)
var ukContextRe = regexp.MustCompile(`(?i)\b(uk|united kingdom|britain|british|ofcom)\b`)
var auContextRe = regexp.MustCompile(`(?i)\b(australia|australian|esafety)\b`)

func fixed(name, typ, id string) func(string) (Canonical, bool) {
	return func(string) (Canonical, bool) {
		return Canonical{LawName: name, LawType: typ, LawIdentifier: id}, true
	}
}

// Ordering matters: KOSA must precede the generic Online Safety Act
// rule, since "Kids Online Safety Act" contains it.
var aliasRules = []aliasRule{
	{
		pattern: regexp.MustCompile(`(?i)\bCOPPA\b|children'?s online privacy protection act`),
		resolve: fixed("Children's Online Privacy Protection Act (COPPA)", "act", "COPPA"),
	},
	{
		pattern: regexp.MustCompile(`(?i)\bKOSA\b|kids online safety act`),
		resolve: fixed("Kids Online Safety Act (KOSA)", "act", "KOSA"),
	},
	{
		pattern: regexp.MustCompile(`(?i)age[\s-]appropriate design code act|\bAB[\s-]?2273\b`),
		resolve: fixed("California Age-Appropriate Design Code Act", "act", "AB-2273"),
	},
	{
		pattern: regexp.MustCompile(`(?i)securing children online through parental empowerment|\bSCOPE\s+act\b`),
		resolve: fixed("Securing Children Online through Parental Empowerment (SCOPE) Act", "act", "SCOPE-ACT"),
	},
	{
		// DSA is a common acronym outside EU law (e.g. data-sharing
		// agreements); require EU legal context before binding it.
		pattern: regexp.MustCompile(`(?i)\bDSA\b|digital services act`),
		resolve: func(context string) (Canonical, bool) {
			if !euContextRe.MatchString(context) {
				return Canonical{}, false
			}
			return Canonical{LawName: "Digital Services Act (DSA)", LawType: "regulation", LawIdentifier: "EU-DSA"}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)online safety act`),
		resolve: func(context string) (Canonical, bool) {
			switch {
			case ukContextRe.MatchString(context):
				return Canonical{LawName: "Online Safety Act 2023", LawType: "act", LawIdentifier: "UK-OSA-2023"}, true
			case auContextRe.MatchString(context):
				return Canonical{LawName: "Online Safety Act 2021", LawType: "act", LawIdentifier: "AU-OSA-2021"}, true
			default:
				return Canonical{LawName: "Online Safety Act", LawType: "act"}, true
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\bGDPR\b|general data protection regulation`),
		resolve: fixed("General Data Protection Regulation (GDPR)", "regulation", "EU-GDPR"),
	},
	{
		pattern: regexp.MustCompile(`(?i)\bDPDP\b|digital personal data protection`),
		resolve: fixed("Digital Personal Data Protection Act (DPDP)", "act", "IN-DPDP"),
	},
	{
		pattern: regexp.MustCompile(`(?i)\bPDPA\b|personal data protection act`),
		resolve: fixed("Personal Data Protection Act (PDPA)", "act", "PDPA"),
	},
}

func matchAlias(field, context string) (Canonical, bool) {
	for _, rule := range aliasRules {
		if !rule.pattern.MatchString(field) {
			continue
		}
		if c, ok := rule.resolve(context); ok {
			return c, true
		}
	}
	return Canonical{}, false
}

// --- step 2: explicit law phrase ---

var lawPhraseRe = regexp.MustCompile(
	`\b((?:[A-Z][\w'’-]*|of|for|and|the|on|to|in|under)` +
		`(?:\s+(?:[A-Z][\w'’-]*|of|for|and|the|on|to|in|under)){0,9}` +
		`\s+(?:Act|Bill|Directive|Regulation|Code|Rule)s?(?:\s+(?:of\s+)?\d{4})?)\b`)

var lawKeywordRe = regexp.MustCompile(`\b(Act|Bill|Directive|Regulation|Code|Rule)s?\b`)
var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)
var knownAcronymRe = regexp.MustCompile(`\b(COPPA|KOSA|DSA|GDPR|DPDP|PDPA|OSA|AADC|CCPA)\b`)

var leadingStopWords = map[string]bool{
	"the": true, "a": true, "this": true, "for": true, "to": true,
	"under": true, "potentially": true,
}

var narrativeVerbs = map[string]bool{
	"has": true, "is": true, "are": true, "introduced": true,
	"enacted": true, "issued": true, "setting": true, "claims": true,
	"alleging": true, "follows": true,
}

type phraseCandidate struct {
	name  string
	score int
}

func matchLawPhrase(field string) (Canonical, bool) {
	matches := lawPhraseRe.FindAllString(field, -1)
	var best *phraseCandidate
	for _, raw := range matches {
		name, score, ok := evaluatePhrase(raw)
		if !ok {
			continue
		}
		if best == nil || score > best.score ||
			(score == best.score && len(name) < len(best.name)) {
			best = &phraseCandidate{name: name, score: score}
		}
	}
	if best == nil {
		return Canonical{}, false
	}

	c := Canonical{LawName: best.name, LawType: phraseType(best.name)}
	if id, ok := matchBillNumber(field); ok {
		c.LawIdentifier = id
	}
	return c, true
}

// evaluatePhrase strips leading stop-words, rejects narrative heads and
// scores what remains.
func evaluatePhrase(raw string) (string, int, bool) {
	words := strings.Fields(raw)
	score := 0

	stripped := 0
	for len(words) > 1 && leadingStopWords[strings.ToLower(words[0])] {
		words = words[1:]
		stripped++
	}
	if stripped > 0 {
		score -= 8
	}
	if len(words) < 2 {
		// A bare keyword ("Act") is not a name.
		return "", 0, false
	}
	for _, w := range words[:len(words)-1] {
		if narrativeVerbs[strings.ToLower(w)] {
			return "", 0, false
		}
	}

	name := strings.Join(words, " ")
	if lawKeywordRe.MatchString(name) {
		score += 10
	}
	if yearRe.MatchString(name) {
		score += 2
	}
	if knownAcronymRe.MatchString(name) {
		score += 3
	}
	if n := len(words); n > 9 {
		score -= n - 9
	}
	return name, score, true
}

// phraseType derives the instrument type from the terminal keyword:
// "Social Media Regulation Act" is an act, not a regulation.
func phraseType(name string) string {
	ms := lawKeywordRe.FindAllStringSubmatch(name, -1)
	if len(ms) == 0 {
		return "law"
	}
	return strings.ToLower(ms[len(ms)-1][1])
}

// --- step 3: bill numbers ---

var billNumberRe = regexp.MustCompile(`\b(SB|HB|AB|HR|SR|SJR|HJR|LB)[\s.-]?(\d{1,5})\b`)

func matchBillNumber(field string) (string, bool) {
	m := billNumberRe.FindStringSubmatch(field)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]) + "-" + m[2], true
}

// --- step 4: subject line ---

func subjectFallback(title string) Canonical {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "online safety"):
		return Canonical{LawName: "Child Online Safety Law", LawType: "law"}
	case strings.Contains(lower, "age verification"), strings.Contains(lower, "age assurance"):
		return Canonical{LawName: "Age Verification Law", LawType: "law"}
	case strings.Contains(lower, "privacy"), strings.Contains(lower, "data protection"):
		return Canonical{LawName: "Child Data Privacy Law", LawType: "law"}
	}

	words := strings.Fields(title)
	if len(words) == 0 {
		return Canonical{LawName: "Unspecified Law", LawType: "law"}
	}
	if len(words) > 7 {
		words = words[:7]
	}
	for i, w := range words {
		words[i] = titleCase(w)
	}
	return Canonical{LawName: strings.Join(words, " "), LawType: "law"}
}

func titleCase(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}

// --- keys ---

var slugStripRe = regexp.MustCompile(`['’]`)
var slugDashRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases, strips apostrophes and collapses everything else
// non-alphanumeric to single dashes.
func Slug(s string) string {
	s = strings.ToLower(s)
	s = slugStripRe.ReplaceAllString(s, "")
	s = slugDashRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Key builds the deterministic law key
// slug(country):slug(state):slug(identifier-or-name). An empty
// jurisdiction maps to "global".
func Key(country string, state *string, idOrName string) string {
	c := Slug(country)
	if c == "" {
		c = "global"
	}
	st := ""
	if state != nil {
		st = Slug(*state)
	}
	return fmt.Sprintf("%s:%s:%s", c, st, Slug(idOrName))
}

// ScoreName applies the phrase-scoring heuristic to an already
// canonical name. Backfill uses it to pick the best display name
// within a law group.
func ScoreName(name string) int {
	score := 0
	if lawKeywordRe.MatchString(name) {
		score += 10
	}
	if yearRe.MatchString(name) {
		score += 2
	}
	if knownAcronymRe.MatchString(name) {
		score += 3
	}
	words := strings.Fields(name)
	if len(words) > 0 && leadingStopWords[strings.ToLower(words[0])] {
		score -= 8
	}
	if n := len(words); n > 9 {
		score -= n - 9
	}
	return score
}

// MoreSpecificType upgrades a generic "law" classification when a
// group member offers a concrete instrument type.
func MoreSpecificType(current, candidate string) string {
	if current == "" || current == "law" {
		if candidate != "" {
			return candidate
		}
	}
	return current
}
