package insights

import (
	"context"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// LanguageResult is the language matcher's portion of a bundle.
type LanguageResult struct {
	Match bool
	Name  string
}

// LanguageMatcher detects a mail's language and compares it to the working language.
type LanguageMatcher struct {
	gen             *generate.Generator
	workingLanguage string
}

// NewLanguageMatcher creates a matcher for workingLanguage.
func NewLanguageMatcher(gen *generate.Generator, workingLanguage string) *LanguageMatcher {
	return &LanguageMatcher{gen: gen, workingLanguage: workingLanguage}
}

// Match runs one generation over the mail body.
func (l *LanguageMatcher) Match(ctx context.Context, mail models.Mail) (LanguageResult, error) {
	out, err := generate.Generate[languageOutput](ctx, l.gen, generate.Request{
		Template: languageTemplate,
		Schema:   languageSchema,
		Slots: map[string]string{
			"working_language": l.workingLanguage,
			"body":             mail.Body,
		},
	})
	if err != nil {
		return LanguageResult{}, err
	}
	return LanguageResult{Match: *out.LanguageMatch, Name: out.LanguageNameDetermined}, nil
}

// Run matches every mail of the batch.
func (l *LanguageMatcher) Run(ctx context.Context, mails []models.Mail, limit int) (*Batch[LanguageResult], error) {
	return runPerMail(ctx, "language", limit, mails, l.Match)
}
