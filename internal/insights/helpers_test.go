package insights

import (
	"context"
	"strings"
	"sync"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// routedModel answers each prompt kind with its own handler so that
// concurrent branches get deterministic replies.
type routedModel struct {
	mu       sync.Mutex
	calls    map[string]int
	prompts  map[string][]string
	handlers map[string]func(human string) (string, error)
}

func newRoutedModel() *routedModel {
	r := &routedModel{
		calls:   map[string]int{},
		prompts: map[string][]string{},
		handlers: map[string]func(string) (string, error){
			"insights": func(string) (string, error) {
				return `{"category": "Delivery", "sentiment": -0.4, "urgency": 0.7, "summary": "Order #5 is late.",
					"keyFacts": [{"category": "order", "fact": "#5"}],
					"suggestedActions": [{"type": "Order", "value": "track-shipment"}]}`, nil
			},
			"language": func(human string) (string, error) {
				if strings.Contains(human, "Bestellung") {
					return `{"languageMatch": false, "languageNameDetermined": "German"}`, nil
				}
				return `{"languageMatch": true, "languageNameDetermined": "English"}`, nil
			},
			"response": func(string) (string, error) {
				return "```json\n{\"responseBody\": \"Dear customer, we are looking into order #5.\"}\n```", nil
			},
			"bundle": func(string) (string, error) {
				return `{"subject": "Bestellung #5 verspätet", "body": "Ich möchte wissen, wo meine Bestellung ist.",
					"sender": "", "summary": "Bestellung #5 ist verspätet.",
					"keyFacts": [{"category": "Bestellung", "fact": "#5"}], "myAdditionalAttributes": [],
					"responseBody": "Sehr geehrter Kunde, wir prüfen Bestellung #5."}`, nil
			},
			"text": func(string) (string, error) {
				return `{"responseBody": "Übersetzte Antwort"}`, nil
			},
			"attributes": func(string) (string, error) {
				return `{"myAdditionalAttributes": [{"attribute": "Product", "returnValue": "kettle"},
					{"attribute": "invented", "returnValue": "x"}]}`, nil
			},
			"repair": func(string) (string, error) {
				return "still not json", nil
			},
		},
	}
	return r
}

func classify(messages []llm.Message) string {
	if len(messages) == 1 {
		return "repair"
	}
	system := messages[0].Content
	switch {
	case strings.Contains(system, "give insights"):
		return "insights"
	case strings.Contains(system, "Determine the language"):
		return "language"
	case strings.Contains(system, "Write a response"):
		return "response"
	case strings.Contains(system, "Extract information related to the attributes"):
		return "attributes"
	case strings.Contains(system, "Translate every value"):
		return "bundle"
	case strings.Contains(system, "Translate the following response"):
		return "text"
	}
	return "unknown"
}

func (r *routedModel) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := classify(messages)
	human := messages[len(messages)-1].Content
	r.mu.Lock()
	r.calls[kind]++
	r.prompts[kind] = append(r.prompts[kind], messages[0].Content)
	h := r.handlers[kind]
	r.mu.Unlock()
	if h == nil {
		return "", nil
	}
	return h(human)
}

func (r *routedModel) on(kind string, h func(human string) (string, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *routedModel) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

func (r *routedModel) systemPrompts(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts[kind]...)
}

type fakeRetriever struct {
	similar   []string
	responses map[string]string
	err       error
}

func (f *fakeRetriever) SimilarResponses(ctx context.Context, tenant string, mail models.Mail, k int) ([]string, error) {
	return f.similar, f.err
}

func (f *fakeRetriever) Responses(ctx context.Context, tenant string, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if r, ok := f.responses[id]; ok {
			out = append(out, r)
		}
	}
	return out, f.err
}
