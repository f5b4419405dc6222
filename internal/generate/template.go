package generate

import (
	"fmt"
	"regexp"
	"strings"
)

// Reserved slots filled by the generator.
const (
	SlotFormatInstructions = "format_instructions"
	SlotContext            = "context"
)

var slotPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Template is a chat prompt with {name} slots in both parts.
type Template struct {
	System string
	Human  string
}

// render substitutes every slot in one pass, so substituted values are never
// scanned for further slots.
func render(text string, slots map[string]string) (string, error) {
	var missing []string
	for _, m := range slotPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := slots[m[1]]; !ok {
			missing = append(missing, m[1])
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("template slots without values: %s", strings.Join(missing, ", "))
	}
	pairs := make([]string, 0, 2*len(slots))
	for k, v := range slots {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}

// stuff joins context documents the way a stuff-documents chain does.
func stuff(docs []string) string {
	return strings.Join(docs, "\n\n")
}
