package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// searchFields are the analysed fields a keyword may match.
var searchFields = []string{"subject", "body", "summary", "sender"}

// mailDoc is the indexed shape of a mail.
type mailDoc struct {
	Tenant  string `json:"tenant"`
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Summary string `json:"summary"`
	Sender  string `json:"sender"`
}

// BleveIndex implements MailIndex using Bleve. All tenants share one index;
// every query is constrained to the caller's tenant.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps
// the index in memory.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so order numbers and
	// product names match verbatim.
	textFieldMapping.Analyzer = standard.Name
	for _, field := range searchFields {
		docMapping.AddFieldMappingsAt(field, textFieldMapping)
	}
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("tenant", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("id", keywordFieldMapping)
	im.AddDocumentMapping("mail", docMapping)
	im.DefaultType = "mail"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// tenantKey keeps the empty tenant addressable as a keyword term.
func tenantKey(tenant string) string {
	return "t:" + tenant
}

func docID(tenant, id string) string {
	return tenantKey(tenant) + "\x00" + id
}

// Index indexes or re-indexes a mail under its tenant.
func (b *BleveIndex) Index(ctx context.Context, tenant string, mail *models.StoredMail) error {
	doc := mailDoc{
		Tenant:  tenantKey(tenant),
		ID:      mail.ID,
		Subject: mail.Subject,
		Body:    mail.Body,
		Summary: mail.Summary,
		Sender:  strings.TrimSpace(mail.Sender + " " + mail.SenderEmailAddress),
	}
	if err := b.index.Index(docID(tenant, mail.ID), doc); err != nil {
		return fmt.Errorf("index mail %s: %w", mail.ID, err)
	}
	return nil
}

// Search returns the tenant's mails matching query, best first. Any term may
// match in any field; subject matches are boosted when opts asks for it.
func (b *BleveIndex) Search(ctx context.Context, tenant, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	subjectBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		if opts.SubjectBoost > 0 {
			subjectBoost = opts.SubjectBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	fieldQueries := make([]blevequery.Query, 0, len(searchFields))
	for _, field := range searchFields {
		boost := 1.0
		if field == "subject" {
			boost = subjectBoost
		}
		if fuzzyEnabled {
			fieldQueries = append(fieldQueries, buildFuzzyQuery(query, fuzziness, field, boost))
			continue
		}
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		fieldQueries = append(fieldQueries, mq)
	}

	tq := bleve.NewTermQuery(tenantKey(tenant))
	tq.SetField("tenant")
	q := bleve.NewConjunctionQuery(tq, bleve.NewDisjunctionQuery(fieldQueries...))

	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = []string{"id"}
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, _ := hit.Fields["id"].(string)
		if id == "" {
			_, id, _ = strings.Cut(hit.ID, "\x00")
		}
		out = append(out, &Result{ID: id, Score: hit.Score})
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the
// query, restricted to field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string, boost float64) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a mail from the index.
func (b *BleveIndex) Delete(ctx context.Context, tenant, id string) error {
	return b.index.Delete(docID(tenant, id))
}

// DocCount returns the total number of indexed mails.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
