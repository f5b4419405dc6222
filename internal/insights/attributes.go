package insights

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// AttributeExtractor fills tenant-defined attributes from a mail.
type AttributeExtractor struct {
	gen *generate.Generator
}

// NewAttributeExtractor creates an extractor on gen.
func NewAttributeExtractor(gen *generate.Generator) *AttributeExtractor {
	return &AttributeExtractor{gen: gen}
}

// Extract returns one value per defined attribute, in definition order.
// Attributes the model invents are dropped.
func (a *AttributeExtractor) Extract(ctx context.Context, mail models.Mail, defs []models.AttributeDefinition) ([]models.AttributeValue, error) {
	out, err := generate.Generate[attributesOutput](ctx, a.gen, generate.Request{
		Template: attributesTemplate,
		Schema:   attributesSchema,
		Slots: map[string]string{
			"attributes": describeAttributes(defs),
			"sender":     mail.SenderEmailAddress,
			"subject":    mail.Subject,
			"body":       mail.Body,
		},
	})
	if err != nil {
		return nil, err
	}
	got := make(map[string]string, len(out.MyAdditionalAttributes))
	for _, v := range out.MyAdditionalAttributes {
		got[strings.ToLower(strings.TrimSpace(v.Attribute))] = v.ReturnValue
	}
	values := make([]models.AttributeValue, 0, len(defs))
	for _, def := range defs {
		if v, ok := got[strings.ToLower(def.Attribute)]; ok {
			values = append(values, models.AttributeValue{Attribute: def.Attribute, ReturnValue: v})
		}
	}
	return values, nil
}

// Run extracts attributes for every mail of the batch.
func (a *AttributeExtractor) Run(ctx context.Context, mails []models.Mail, defs []models.AttributeDefinition, limit int) (*Batch[[]models.AttributeValue], error) {
	return runPerMail(ctx, "attributes", limit, mails, func(ctx context.Context, m models.Mail) ([]models.AttributeValue, error) {
		return a.Extract(ctx, m, defs)
	})
}

func describeAttributes(defs []models.AttributeDefinition) string {
	var b strings.Builder
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", def.Attribute, def.Explanation)
		for _, v := range def.Values {
			fmt.Fprintf(&b, "  - value '%s': %s\n", v.Value, v.Explanation)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
