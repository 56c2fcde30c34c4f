package source

// The registry is compile-time data: adding a source requires a
// redeploy. Runtime state for a source (last_crawled_at) lives in the
// store, keyed by name.

func strPtr(s string) *string { return &s }

var registry = []Source{
	{
		Name:                "FTC Press Releases",
		URL:                 "https://www.ftc.gov/news-events/news/press-releases",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "United States",
		JurisdictionCountry: "United States",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"COPPA", "children's privacy", "age verification"},
		Description:         "Federal Trade Commission enforcement and rulemaking announcements",
	},
	{
		Name:                "US Congress Child Safety Bills",
		URL:                 "https://www.congress.gov/rss/most-viewed-bills.xml",
		Type:                TypeRSSFeed,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "United States",
		JurisdictionCountry: "United States",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"KOSA", "Kids Online Safety Act", "minors"},
		Description:         "Congress.gov bill tracking feed",
	},
	{
		Name:                "California Legislature AB Tracker",
		URL:                 "https://leginfo.legislature.ca.gov/faces/billSearchClient.xhtml",
		Type:                TypeLegalDatabase,
		AuthorityType:       AuthorityState,
		Jurisdiction:        "California, United States",
		JurisdictionCountry: "United States",
		JurisdictionState:   strPtr("California"),
		ReliabilityTier:     5,
		SearchKeywords:      []string{"AB-2273", "Age-Appropriate Design Code", "social media minors"},
		Description:         "California bill text and status",
	},
	{
		Name:                "Texas Legislature Online",
		URL:                 "https://capitol.texas.gov/Home.aspx",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthorityState,
		Jurisdiction:        "Texas, United States",
		JurisdictionCountry: "United States",
		JurisdictionState:   strPtr("Texas"),
		ReliabilityTier:     5,
		SearchKeywords:      []string{"SCOPE Act", "parental consent", "age verification"},
		Description:         "Texas legislative portal",
	},
	{
		Name:                "European Commission Digital Newsroom",
		URL:                 "https://digital-strategy.ec.europa.eu/en/news",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthoritySupranational,
		Jurisdiction:        "European Union",
		JurisdictionCountry: "European Union",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"DSA", "Digital Services Act", "minors", "Article 28"},
		Description:         "Commission announcements on platform regulation",
	},
	{
		Name:                "UK Ofcom Online Safety Updates",
		URL:                 "https://www.ofcom.org.uk/online-safety",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "United Kingdom",
		JurisdictionCountry: "United Kingdom",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"Online Safety Act", "age assurance", "children's codes"},
		Description:         "Ofcom codes of practice and enforcement updates",
	},
	{
		Name:                "UK ICO Children's Code News",
		URL:                 "https://ico.org.uk/about-the-ico/media-centre/",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "United Kingdom",
		JurisdictionCountry: "United Kingdom",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"age appropriate design", "children's data"},
		Description:         "Information Commissioner's Office press releases",
	},
	{
		Name:                "Australia eSafety Commissioner",
		URL:                 "https://www.esafety.gov.au/newsroom",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "Australia",
		JurisdictionCountry: "Australia",
		ReliabilityTier:     5,
		SearchKeywords:      []string{"Online Safety Act", "social media minimum age"},
		Description:         "eSafety Commissioner announcements",
	},
	{
		Name:                "India MeitY Press Releases",
		URL:                 "https://www.meity.gov.in/whats-new",
		Type:                TypeGovernmentPage,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "India",
		JurisdictionCountry: "India",
		ReliabilityTier:     4,
		SearchKeywords:      []string{"DPDP", "Digital Personal Data Protection", "children"},
		Description:         "Ministry of Electronics and IT updates",
	},
	{
		Name:                "IAPP Daily Dashboard",
		URL:                 "https://iapp.org/news/rss",
		Type:                TypeRSSFeed,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "Global",
		JurisdictionCountry: "United States",
		ReliabilityTier:     4,
		SearchKeywords:      []string{"children's privacy", "age verification", "minors"},
		Description:         "Privacy-profession news aggregation",
	},
	{
		Name:                "TechPolicy Press Feed",
		URL:                 "https://www.techpolicy.press/rss/",
		Type:                TypeRSSFeed,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "Global",
		JurisdictionCountry: "United States",
		ReliabilityTier:     3,
		SearchKeywords:      []string{"kids online safety", "platform regulation"},
		Description:         "Technology policy reporting and analysis",
	},
	{
		Name:                "Child Safety Policy Watch",
		URL:                 "child online safety act OR age verification law -is:retweet",
		Type:                TypeMicroblogSearch,
		AuthorityType:       AuthorityNational,
		Jurisdiction:        "Global",
		JurisdictionCountry: "United States",
		ReliabilityTier:     2,
		SearchKeywords:      []string{"child online safety", "age verification"},
		Description:         "Microblog search for breaking regulatory chatter",
	},
	{
		Name:                "EU Minor Protection Watch",
		URL:                 "\"Digital Services Act\" minors OR \"Article 28\" -is:retweet",
		Type:                TypeMicroblogSearch,
		AuthorityType:       AuthoritySupranational,
		Jurisdiction:        "European Union",
		JurisdictionCountry: "European Union",
		ReliabilityTier:     2,
		SearchKeywords:      []string{"DSA minors", "Article 28"},
		Description:         "Microblog search for DSA minor-protection enforcement",
	},
}

// All returns every registered source.
func All() []Source {
	out := make([]Source, len(registry))
	copy(out, registry)
	return out
}

// ByJurisdiction returns sources whose jurisdiction country matches.
func ByJurisdiction(country string) []Source {
	var out []Source
	for _, s := range registry {
		if s.JurisdictionCountry == country {
			out = append(out, s)
		}
	}
	return out
}

// ByMinReliability returns sources at or above the given tier.
func ByMinReliability(tier int) []Source {
	var out []Source
	for _, s := range registry {
		if s.ReliabilityTier >= tier {
			out = append(out, s)
		}
	}
	return out
}
