// Package insights turns raw customer mails into processed records: it fans
// out insight extraction, language matching, response drafting, and
// attribute extraction, merges the results by mail ID, and translates the
// merged record when the mail is not in the working language.
package insights

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Field groups that can be absent from a processed mail.
const (
	GroupInsights    = "insights"
	GroupLanguage    = "language"
	GroupResponse    = "response"
	GroupAttributes  = "attributes"
	GroupTranslation = "translation"
)

// BatchOptions parameterises one Process call.
type BatchOptions struct {
	Tenant string
	Rag    bool
	// Attributes enables the attribute branch when non-empty.
	Attributes []models.AttributeDefinition
}

// Orchestrator runs the full pipeline over a batch of mails.
type Orchestrator struct {
	extractor   *InsightExtractor
	matcher     *LanguageMatcher
	drafter     *ResponseDrafter
	attributes  *AttributeExtractor
	translator  *Translator
	concurrency int
	logger      *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	workingLanguage string
	ragK            int
	concurrency     int
	logger          *zap.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *options) {
		c.logger = logger
	}
}

// WithWorkingLanguage sets the language the support team works in.
func WithWorkingLanguage(language string) Option {
	return func(c *options) {
		if language != "" {
			c.workingLanguage = language
		}
	}
}

// WithRagK sets how many similar responses ground a draft.
func WithRagK(k int) Option {
	return func(c *options) {
		if k > 0 {
			c.ragK = k
		}
	}
}

// WithConcurrency bounds the per-branch number of in-flight model calls.
func WithConcurrency(n int) Option {
	return func(c *options) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewOrchestrator wires every pipeline component onto gen.
func NewOrchestrator(gen *generate.Generator, retriever Retriever, opts ...Option) *Orchestrator {
	c := options{workingLanguage: "English", ragK: 5, concurrency: 4, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	return &Orchestrator{
		extractor:   NewInsightExtractor(gen),
		matcher:     NewLanguageMatcher(gen, c.workingLanguage),
		drafter:     NewResponseDrafter(gen, retriever, c.ragK, c.workingLanguage),
		attributes:  NewAttributeExtractor(gen),
		translator:  NewTranslator(gen, c.logger),
		concurrency: c.concurrency,
		logger:      c.logger,
	}
}

// Drafter returns the response drafter.
func (o *Orchestrator) Drafter() *ResponseDrafter { return o.drafter }

// Translator returns the translator.
func (o *Orchestrator) Translator() *Translator { return o.translator }

// mergeEntry collects one mail's branch outputs; nil or false means absent.
type mergeEntry struct {
	mail          models.Mail
	response      *string
	language      *LanguageResult
	general       *GeneralInsights
	attributes    []models.AttributeValue
	hasAttributes bool
	failures      map[string]error
}

// Process returns one processed mail per input mail, in input order. Mails
// without an ID get a fresh one.
func (o *Orchestrator) Process(ctx context.Context, mails []models.Mail, opts BatchOptions) ([]*models.StoredMail, error) {
	batch := make([]models.Mail, len(mails))
	for i, m := range mails {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		batch[i] = m
	}
	if len(batch) == 0 {
		return nil, nil
	}
	o.logger.Info("processing mails",
		zap.String("tenant", opts.Tenant),
		zap.Int("count", len(batch)),
		zap.Bool("rag", opts.Rag),
		zap.Int("attributes", len(opts.Attributes)))

	// Extracting
	var (
		general   *Batch[GeneralInsights]
		language  *Batch[LanguageResult]
		responses *Batch[string]
		attrs     *Batch[[]models.AttributeValue]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		general, err = o.extractor.Run(gctx, batch, o.concurrency)
		return err
	})
	g.Go(func() (err error) {
		responses, err = o.drafter.Run(gctx, batch, DraftOptions{Tenant: opts.Tenant, Rag: opts.Rag}, o.concurrency)
		return err
	})
	g.Go(func() (err error) {
		language, err = o.matcher.Run(gctx, batch, o.concurrency)
		return err
	})
	if len(opts.Attributes) > 0 {
		g.Go(func() (err error) {
			attrs, err = o.attributes.Run(gctx, batch, opts.Attributes, o.concurrency)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Error("extraction failed", zap.String("tenant", opts.Tenant), zap.Error(err))
		return nil, err
	}

	// Merging
	entries := make(map[string]*mergeEntry, len(batch))
	for _, m := range batch {
		entries[m.ID] = &mergeEntry{mail: m, failures: map[string]error{}}
	}
	for id, v := range responses.Values {
		entries[id].response = &v
	}
	for id, v := range language.Values {
		entries[id].language = &v
	}
	for id, v := range general.Values {
		entries[id].general = &v
	}
	if attrs != nil {
		for id, v := range attrs.Values {
			entries[id].attributes = v
			entries[id].hasAttributes = true
		}
	}
	recordFailures(entries, GroupResponse, responses.Failures)
	recordFailures(entries, GroupLanguage, language.Failures)
	recordFailures(entries, GroupInsights, general.Failures)
	if attrs != nil {
		recordFailures(entries, GroupAttributes, attrs.Failures)
	}

	out := make([]*models.StoredMail, len(batch))
	for i, m := range batch {
		out[i] = o.merge(entries[m.ID], len(opts.Attributes) > 0)
	}

	// Translating
	if err := o.translate(ctx, out); err != nil {
		o.logger.Error("translation failed", zap.String("tenant", opts.Tenant), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func recordFailures(entries map[string]*mergeEntry, group string, failures map[string]error) {
	for id, err := range failures {
		entries[id].failures[group] = err
	}
}

// merge applies the groups from lowest to highest precedence: response,
// language, insights, attributes.
func (o *Orchestrator) merge(e *mergeEntry, wantAttributes bool) *models.StoredMail {
	m := &models.StoredMail{Mail: e.mail}
	// Without a detected language the mail is treated as matching, so no
	// translation is attempted.
	m.LanguageMatch = true

	if e.response != nil {
		m.ResponseBody = *e.response
	} else {
		m.Missing = append(m.Missing, GroupResponse)
	}
	if e.language != nil {
		m.LanguageMatch = e.language.Match
		m.LanguageNameDetermined = e.language.Name
	} else {
		m.Missing = append(m.Missing, GroupLanguage)
	}
	if e.general != nil {
		m.Category = e.general.Category
		m.Sentiment = e.general.Sentiment
		m.Urgency = e.general.Urgency
		m.Summary = e.general.Summary
		m.KeyFacts = e.general.KeyFacts
		m.SuggestedActions = e.general.SuggestedActions
		models.FillActionDescriptions(m.SuggestedActions)
	} else {
		m.Missing = append(m.Missing, GroupInsights)
	}
	if e.hasAttributes {
		m.MyAdditionalAttributes = e.attributes
	} else if wantAttributes {
		m.Missing = append(m.Missing, GroupAttributes)
	}

	for group, err := range e.failures {
		o.logger.Warn("mail portion missing",
			zap.String("mail_id", e.mail.ID),
			zap.String("group", group),
			zap.Error(err))
	}
	return m
}

// translate fills Translation on every mail. Matching mails get a verbatim
// copy; a failed translation falls back to a copy unless it is fatal.
func (o *Orchestrator) translate(ctx context.Context, mails []*models.StoredMail) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, m := range mails {
		if m.LanguageMatch {
			m.Translation = m.PassthroughTranslation()
			continue
		}
		g.Go(func() error {
			tr, err := o.translator.TranslateBundle(gctx, m, m.LanguageNameDetermined)
			if err != nil {
				if fatal(err) {
					return &BranchError{Branch: GroupTranslation, Err: err}
				}
				o.logger.Warn("mail translation failed, keeping original text",
					zap.String("mail_id", m.ID),
					zap.String("language", m.LanguageNameDetermined),
					zap.Error(err))
				m.Missing = append(m.Missing, GroupTranslation)
				tr = m.PassthroughTranslation()
			}
			m.Translation = tr
			return nil
		})
	}
	return g.Wait()
}
