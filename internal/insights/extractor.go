package insights

import (
	"context"
	"slices"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// GeneralInsights is the insight extractor's portion of a bundle.
type GeneralInsights struct {
	Category         string
	Sentiment        float64
	Urgency          float64
	Summary          string
	KeyFacts         []models.KeyFact
	SuggestedActions []models.SuggestedAction
}

// InsightExtractor derives category, sentiment, urgency, summary, key facts,
// and suggested actions from a mail.
type InsightExtractor struct {
	gen          *generate.Generator
	actionValues string
}

// NewInsightExtractor creates an extractor on gen.
func NewInsightExtractor(gen *generate.Generator) *InsightExtractor {
	values := models.ActionValues()
	slices.Sort(values)
	return &InsightExtractor{gen: gen, actionValues: strings.Join(values, ", ")}
}

// Extract runs one generation for mail.
func (e *InsightExtractor) Extract(ctx context.Context, mail models.Mail) (GeneralInsights, error) {
	out, err := generate.Generate[insightOutput](ctx, e.gen, generate.Request{
		Template: insightTemplate,
		Schema:   insightSchema,
		Slots: map[string]string{
			"action_values": e.actionValues,
			"subject":       mail.Subject,
			"body":          mail.Body,
		},
	})
	if err != nil {
		return GeneralInsights{}, err
	}
	actions := make([]models.SuggestedAction, len(out.SuggestedActions))
	for i, a := range out.SuggestedActions {
		actions[i] = models.SuggestedAction{Type: a.Type, Value: a.Value}
	}
	return GeneralInsights{
		Category:         out.Category,
		Sentiment:        *out.Sentiment,
		Urgency:          *out.Urgency,
		Summary:          out.Summary,
		KeyFacts:         toKeyFacts(out.KeyFacts),
		SuggestedActions: actions,
	}, nil
}

// Run extracts insights for every mail of the batch.
func (e *InsightExtractor) Run(ctx context.Context, mails []models.Mail, limit int) (*Batch[GeneralInsights], error) {
	return runPerMail(ctx, "insights", limit, mails, e.Extract)
}
