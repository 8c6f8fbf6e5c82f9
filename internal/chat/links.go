package chat

import "regexp"

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// ConvertMarkdownLinks rewrites [text](url) links as anchors that open in
// a new tab, for the site's chat widget which renders HTML.
func ConvertMarkdownLinks(text string) string {
	return markdownLink.ReplaceAllString(text,
		`<a href="$2" target="_blank" style="color: blue; text-decoration: underline;">$1</a>`)
}
