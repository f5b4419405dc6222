package insights

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"go.uber.org/zap"
)

// Translator re-expresses a processed mail or a single response in another language.
type Translator struct {
	gen    *generate.Generator
	logger *zap.Logger
}

// NewTranslator creates a translator on gen.
func NewTranslator(gen *generate.Generator, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{gen: gen, logger: logger}
}

// translatable is the allowlist of fields sent for translation.
type translatable struct {
	Subject                string            `json:"subject"`
	Body                   string            `json:"body"`
	Sender                 string            `json:"sender"`
	Summary                string            `json:"summary"`
	KeyFacts               []keyFactOutput   `json:"keyFacts"`
	MyAdditionalAttributes []attributeOutput `json:"myAdditionalAttributes"`
	ResponseBody           string            `json:"responseBody"`
}

// TranslateBundle translates the allowlisted fields of m into language in one call.
func (t *Translator) TranslateBundle(ctx context.Context, m *models.StoredMail, language string) (*models.Translation, error) {
	if language == "" {
		return nil, fmt.Errorf("translate mail %s: no target language", m.ID)
	}
	payload, err := json.Marshal(translatable{
		Subject:                m.Subject,
		Body:                   m.Body,
		Sender:                 m.Sender,
		Summary:                m.Summary,
		KeyFacts:               fromKeyFacts(m.KeyFacts),
		MyAdditionalAttributes: fromAttributes(m.MyAdditionalAttributes),
		ResponseBody:           m.ResponseBody,
	})
	if err != nil {
		return nil, fmt.Errorf("encode translation input: %w", err)
	}
	out, err := generate.Generate[translationOutput](ctx, t.gen, generate.Request{
		Template: translationTemplate,
		Schema:   translationSchema,
		Slots: map[string]string{
			"language": language,
			"insights": string(payload),
		},
	})
	if err != nil {
		return nil, err
	}
	return &models.Translation{
		Subject:                deref(out.Subject),
		Body:                   deref(out.Body),
		Sender:                 deref(out.Sender),
		Summary:                deref(out.Summary),
		KeyFacts:               toKeyFacts(out.KeyFacts),
		MyAdditionalAttributes: toAttributes(out.MyAdditionalAttributes),
		ResponseBody:           deref(out.ResponseBody),
	}, nil
}

// TranslateText translates a response body into language. On any failure it
// logs and returns text unchanged.
func (t *Translator) TranslateText(ctx context.Context, text, language string) string {
	if text == "" || language == "" {
		return text
	}
	out, err := generate.Generate[responseTranslationOutput](ctx, t.gen, generate.Request{
		Template: responseTranslationTemplate,
		Schema:   responseTranslationSchema,
		Slots: map[string]string{
			"language": language,
			"response": text,
		},
	})
	if err != nil {
		t.logger.Warn("response translation failed, keeping original text",
			zap.String("language", language),
			zap.Error(err))
		return text
	}
	return deref(out.ResponseBody)
}
