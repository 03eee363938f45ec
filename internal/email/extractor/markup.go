package extractor

import (
	"regexp"
	"strings"
)

var (
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)

	// Single pass, so "&amp;lt;" becomes "&lt;" and not "<".
	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// StripMarkup removes style and script blocks, then every tag, then decodes the common
// named entities and trims the result.
func StripMarkup(html string) string {
	text := styleBlockRe.ReplaceAllString(html, "")
	text = scriptBlockRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, "")
	text = entityReplacer.Replace(text)
	return strings.TrimSpace(text)
}
