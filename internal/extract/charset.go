package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// minConfidence is the chardet confidence below which a guess is ignored.
const minConfidence = 30

// EnsureUTF8 returns content as UTF-8 text. Valid UTF-8 is returned as is.
// Otherwise the charset is detected and decoded; when that fails, invalid
// sequences become the replacement character.
func EnsureUTF8(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	if decoded, ok := decode(content); ok {
		return decoded
	}
	return strings.ToValidUTF8(string(content), "�")
}

func decode(content []byte) (string, bool) {
	best, err := chardet.NewTextDetector().DetectBest(content)
	if err != nil || best.Confidence < minConfidence {
		return "", false
	}
	return DecodeCharset(content, best.Charset)
}

// DecodeCharset decodes content from the named charset. Names follow the
// WHATWG encoding labels, which cover the IANA names found in mail headers.
func DecodeCharset(content []byte, charset string) (string, bool) {
	enc, err := htmlindex.Get(strings.ToLower(strings.TrimSpace(charset)))
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(content)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}
