package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/k3a/html2text"
)

var htmlTag = regexp.MustCompile(`(?i)<(html|body|div|p|br|table|span)[\s/>]`)

// LooksLikeHTML reports whether s carries HTML markup.
func LooksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// HTMLToText strips markup and decodes entities.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	return cleanupWhitespace(html2text.HTML2Text(s))
}

// NormalizeBody converts HTML bodies to text, repairs invalid UTF-8 and
// collapses runs of blank lines.
func NormalizeBody(body string) string {
	if !utf8.ValidString(body) {
		body = EnsureUTF8([]byte(body))
	}
	if LooksLikeHTML(body) {
		body = html2text.HTML2Text(body)
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return cleanupWhitespace(body)
}

// cleanupWhitespace trims line ends and keeps at most two consecutive blank lines.
func cleanupWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank <= 2 {
				result = append(result, "")
			}
			continue
		}
		blank = 0
		result = append(result, line)
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}
