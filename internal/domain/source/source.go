package source

// Type classifies how a source is fetched.
type Type string

const (
	TypeGovernmentPage  Type = "government_page"
	TypeRSSFeed         Type = "rss_feed"
	TypeNewsSearch      Type = "news_search"
	TypeLegalDatabase   Type = "legal_database"
	TypeMicroblogSearch Type = "microblog_search"
)

// AuthorityType is the level of government a source speaks for.
type AuthorityType string

const (
	AuthorityNational      AuthorityType = "national"
	AuthorityState         AuthorityType = "state"
	AuthorityLocal         AuthorityType = "local"
	AuthoritySupranational AuthorityType = "supranational"
)

// Source is a registry entry describing one place regulation items are
// discovered. It is a value object; the durable row for a source is
// owned by the store.
type Source struct {
	Name                string        `json:"name"`
	URL                 string        `json:"url"`
	Type                Type          `json:"type"`
	AuthorityType       AuthorityType `json:"authority_type"`
	Jurisdiction        string        `json:"jurisdiction"`
	JurisdictionCountry string        `json:"jurisdiction_country"`
	JurisdictionState   *string       `json:"jurisdiction_state,omitempty"`
	// ReliabilityTier rates trustworthiness 1..5; 5 is an official authority.
	ReliabilityTier int      `json:"reliability_tier"`
	SearchKeywords  []string `json:"search_keywords,omitempty"`
	Description     string   `json:"description"`
}

// IsMicroblog reports whether the source is fetched through the
// rate-limited microblog search API.
func (s Source) IsMicroblog() bool { return s.Type == TypeMicroblogSearch }
