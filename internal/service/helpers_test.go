package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/insights"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/keyword"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
)

// fakeModel answers each prompt by the phrase that identifies its system
// prompt. Mails containing "Bestellung" are German; everything else is English.
type fakeModel struct {
	mu     sync.Mutex
	kinds  map[string]int
	failOn map[string]error
}

func newFakeModel() *fakeModel {
	return &fakeModel{kinds: map[string]int{}, failOn: map[string]error{}}
}

func (f *fakeModel) fail(kind string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[kind] = err
}

func (f *fakeModel) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kinds[kind]
}

func kindOf(messages []llm.Message) string {
	if len(messages) == 1 {
		return "repair"
	}
	system := messages[0].Content
	for phrase, kind := range map[string]string{
		"give insights":                    "insights",
		"Determine the language":           "language",
		"Write a response":                 "response",
		"Extract information related":      "attributes",
		"Translate every value":            "bundle",
		"Translate the following response": "text",
	} {
		if strings.Contains(system, phrase) {
			return kind
		}
	}
	return "unknown"
}

func (f *fakeModel) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := kindOf(messages)
	human := messages[len(messages)-1].Content
	f.mu.Lock()
	f.kinds[kind]++
	err := f.failOn[kind]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	switch kind {
	case "insights":
		return `{"category": "Delivery", "sentiment": -0.2, "urgency": 0.6, "summary": "Customer asks about a mail.",
			"keyFacts": [{"category": "topic", "fact": "mail"}],
			"suggestedActions": [{"type": "Order", "value": "track-shipment"}]}`, nil
	case "language":
		if strings.Contains(human, "Bestellung") {
			return `{"languageMatch": false, "languageNameDetermined": "German"}`, nil
		}
		return `{"languageMatch": true, "languageNameDetermined": "English"}`, nil
	case "response":
		return `{"responseBody": "Dear customer, thank you for your mail."}`, nil
	case "attributes":
		return `{"myAdditionalAttributes": [{"attribute": "product", "returnValue": "kettle"}]}`, nil
	case "bundle":
		var in map[string]any
		if err := json.Unmarshal([]byte(human), &in); err != nil {
			return "", err
		}
		for k, v := range in {
			if s, ok := v.(string); ok && s != "" {
				in[k] = "DE: " + s
			}
		}
		out, _ := json.Marshal(in)
		return string(out), nil
	case "text":
		out, _ := json.Marshal(map[string]string{"responseBody": "DE: " + human})
		return string(out), nil
	}
	return "not json", nil
}

type sentReply struct {
	to, subject, body, inReplyTo string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentReply
	err  error
}

func (m *fakeMailer) SendReply(ctx context.Context, to, subject, body, inReplyTo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentReply{to, subject, body, inReplyTo})
	return nil
}

// flakyStore fails the configured operations and delegates the rest.
type flakyStore struct {
	*vector.MemoryStore
	addErr, updateErr, deleteErr error
}

func (s *flakyStore) AddDocuments(ctx context.Context, tenant string, docs []vector.Document) error {
	if s.addErr != nil {
		return s.addErr
	}
	return s.MemoryStore.AddDocuments(ctx, tenant, docs)
}

func (s *flakyStore) UpdateMetadata(ctx context.Context, tenant, id string, patch map[string]any) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryStore.UpdateMetadata(ctx, tenant, id, patch)
}

func (s *flakyStore) DeleteByID(ctx context.Context, tenant, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.DeleteByID(ctx, tenant, id)
}

// flakyIndex fails keyword writes when configured and delegates the rest.
type flakyIndex struct {
	*keyword.BleveIndex
	indexErr, deleteErr error
}

func (x *flakyIndex) Index(ctx context.Context, tenant string, mail *models.StoredMail) error {
	if x.indexErr != nil {
		return x.indexErr
	}
	return x.BleveIndex.Index(ctx, tenant, mail)
}

func (x *flakyIndex) Delete(ctx context.Context, tenant, id string) error {
	if x.deleteErr != nil {
		return x.deleteErr
	}
	return x.BleveIndex.Delete(ctx, tenant, id)
}

var errStoreDown = errors.Join(vector.ErrStoreUnavailable, errors.New("connection refused"))

type fixture struct {
	svc    *Service
	model  *fakeModel
	mails  *storage.SQLiteStorage
	store  *flakyStore
	index  *flakyIndex
	mailer *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mails, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mails.Close() })
	bleveIndex, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bleveIndex.Close() })
	index := &flakyIndex{BleveIndex: bleveIndex}

	emb := embedding.NewMockEmbedder(1024)
	store := &flakyStore{MemoryStore: vector.NewMemoryStore(emb)}
	model := newFakeModel()
	orch := insights.NewOrchestrator(
		generate.New(model),
		insights.NewStoreRetriever(store, emb, mails),
		insights.WithConcurrency(2),
	)
	mailer := &fakeMailer{}
	svc := New(mails, store, index, orch, config.InsightsConfig{WorkingLanguage: "English", ClosestK: 5, FindCandidates: 50},
		WithMailer(mailer))
	return &fixture{svc: svc, model: model, mails: mails, store: store, index: index, mailer: mailer}
}
