package insights

import (
	"context"
	"fmt"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// DraftOptions controls how a response is drafted.
type DraftOptions struct {
	Tenant string
	// Rag grounds the draft in responses to similar submitted mails.
	Rag bool
	// SelectedMails grounds the draft in these mails' responses instead of a
	// similarity search.
	SelectedMails         []string
	AdditionalInformation string
}

// ResponseDrafter writes a response to a mail, plain or retrieval-augmented.
type ResponseDrafter struct {
	gen             *generate.Generator
	retriever       Retriever
	k               int
	workingLanguage string
}

// NewResponseDrafter creates a drafter that grounds in the k nearest
// submitted responses. retriever may be nil when retrieval is never requested.
func NewResponseDrafter(gen *generate.Generator, retriever Retriever, k int, workingLanguage string) *ResponseDrafter {
	return &ResponseDrafter{gen: gen, retriever: retriever, k: k, workingLanguage: workingLanguage}
}

// Draft returns the response body for mail in the working language.
func (d *ResponseDrafter) Draft(ctx context.Context, mail models.Mail, opts DraftOptions) (string, error) {
	grounded := opts.Rag || len(opts.SelectedMails) > 0
	req := generate.Request{
		Template: responseTemplate,
		Schema:   responseSchema,
		Slots: map[string]string{
			"working_language":       d.workingLanguage,
			"sender":                 mail.SenderEmailAddress,
			"subject":                mail.Subject,
			"body":                   mail.Body,
			"additional_information": opts.AdditionalInformation,
		},
	}
	if grounded {
		docs, err := d.context(ctx, mail, opts)
		if err != nil {
			return "", err
		}
		req.Template = ragResponseTemplate
		req.Context = docs
		req.Prepare = generate.FixJSON
	}
	out, err := generate.Generate[responseOutput](ctx, d.gen, req)
	if err != nil {
		return "", err
	}
	return out.ResponseBody, nil
}

func (d *ResponseDrafter) context(ctx context.Context, mail models.Mail, opts DraftOptions) ([]string, error) {
	if d.retriever == nil {
		return nil, fmt.Errorf("retrieval requested without a retriever")
	}
	if len(opts.SelectedMails) > 0 {
		return d.retriever.Responses(ctx, opts.Tenant, opts.SelectedMails)
	}
	return d.retriever.SimilarResponses(ctx, opts.Tenant, mail, d.k)
}

// Run drafts a response for every mail of the batch.
func (d *ResponseDrafter) Run(ctx context.Context, mails []models.Mail, opts DraftOptions, limit int) (*Batch[string], error) {
	return runPerMail(ctx, "response", limit, mails, func(ctx context.Context, m models.Mail) (string, error) {
		return d.Draft(ctx, m, opts)
	})
}
