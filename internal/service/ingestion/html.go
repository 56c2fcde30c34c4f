package ingestion

import (
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[\s>].*?</script>|<script></script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[\s>].*?</style>`)
	navRe    = regexp.MustCompile(`(?is)<nav[\s>].*?</nav>`)
	footerRe = regexp.MustCompile(`(?is)<footer[\s>].*?</footer>`)
	headerRe = regexp.MustCompile(`(?is)<header[\s>].*?</header>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)

	titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaRe     = regexp.MustCompile(`(?is)<meta\s+[^>]*>`)
	attrRe     = regexp.MustCompile(`([a-zA-Z:-]+)\s*=\s*"([^"]*)"`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&mdash;", "—",
	"&ndash;", "–",
	"&rsquo;", "'",
	"&lsquo;", "'",
	"&rdquo;", `"`,
	"&ldquo;", `"`,
)

// stripHTML removes chrome elements, all remaining tags and entity
// escapes, and collapses whitespace.
func stripHTML(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = navRe.ReplaceAllString(s, " ")
	s = footerRe.ReplaceAllString(s, " ")
	s = headerRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractTitle pulls the <title> element, capped at maxLen characters.
func extractTitle(html string, maxLen int) string {
	m := titleTagRe.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	title := collapseWhitespace(entityReplacer.Replace(m[1]))
	if len(title) > maxLen {
		title = title[:maxLen]
	}
	return title
}

// metaContent returns the content attribute of the first meta tag whose
// name or property equals key.
func metaContent(html, key string) string {
	for _, tag := range metaRe.FindAllString(html, -1) {
		attrs := map[string]string{}
		for _, kv := range attrRe.FindAllStringSubmatch(tag, -1) {
			attrs[strings.ToLower(kv[1])] = kv[2]
		}
		if attrs["name"] == key || attrs["property"] == key {
			return collapseWhitespace(entityReplacer.Replace(attrs["content"]))
		}
	}
	return ""
}
