package email

import (
	_ "embed"
	"errors"
	"strings"
)

//go:embed templates/new_houses.html
var newHousesTemplate string

// renderLinks fills the notification template with the subscriber's secret
// and one list item per link.
func renderLinks(secret string, links []string) (string, error) {
	var items strings.Builder
	for _, link := range links {
		if !isSafeURL(link) {
			continue
		}
		if items.Len() > 0 {
			items.WriteString("\n")
		}
		escaped := escapeHTML(link)
		items.WriteString(`<li><a href="` + escaped + `">` + escaped + `</a></li>`)
	}
	if items.Len() == 0 {
		return "", errors.New("no renderable links")
	}

	r := strings.NewReplacer(
		"{{SECRET}}", escapeHTML(secret),
		"{{LINKS_LIST}}", items.String(),
	)
	return r.Replace(newHousesTemplate), nil
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// isSafeURL allows only absolute http and https links into an email.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))
	return strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://")
}
