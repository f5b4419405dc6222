package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
)

func TestDraft_selectedMailsGroundTheDraft(t *testing.T) {
	model := newRoutedModel()
	retriever := &fakeRetriever{responses: map[string]string{"old-1": "We refunded your kettle."}}
	d := NewResponseDrafter(generate.New(model), retriever, 5, "English")

	body, err := d.Draft(context.Background(), models.Mail{ID: "m1", Body: "Refund please"}, DraftOptions{
		SelectedMails:         []string{"old-1"},
		AdditionalInformation: "Refund approved by manager.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if body == "" {
		t.Error("empty draft")
	}
	system := model.systemPrompts("response")[0]
	if !strings.Contains(system, "We refunded your kettle.") {
		t.Errorf("selected responses should be stuffed into the prompt:\n%s", system)
	}
}

func TestDraft_retrievalErrorFailsTheMail(t *testing.T) {
	model := newRoutedModel()
	d := NewResponseDrafter(generate.New(model), &fakeRetriever{err: errors.New("boom")}, 5, "English")
	if _, err := d.Draft(context.Background(), models.Mail{ID: "m1", Body: "x"}, DraftOptions{Rag: true}); err == nil {
		t.Fatal("expected retrieval error")
	}
	if model.count("response") != 0 {
		t.Error("model should not be called when retrieval fails")
	}
}

func TestDraft_fixJSONInRagPath(t *testing.T) {
	model := newRoutedModel()
	model.on("response", func(string) (string, error) {
		return "{\"responseBody\": \"Dear Ann,\nyour parcel ships today.\"}", nil
	})
	d := NewResponseDrafter(generate.New(model, generate.WithMaxRepairs(0)), &fakeRetriever{}, 5, "English")

	body, err := d.Draft(context.Background(), models.Mail{ID: "m1", Body: "parcel?"}, DraftOptions{Rag: true})
	if err != nil {
		t.Fatal(err)
	}
	if body != "Dear Ann,\nyour parcel ships today." {
		t.Errorf("body = %q", body)
	}
}

func newRetrievalFixture(t *testing.T) (*StoreRetriever, *vector.MemoryStore, *storage.SQLiteStorage) {
	t.Helper()
	emb := embedding.NewMockEmbedder(1024)
	store := vector.NewMemoryStore(emb)
	mails, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mails.Close() })

	ctx := context.Background()
	old := []*models.StoredMail{
		{Mail: models.Mail{ID: "sent", Body: "my parcel has not arrived"}, Insights: models.Insights{ResponseBody: "Your parcel is on its way."}},
		{Mail: models.Mail{ID: "draft", Body: "my parcel has not arrived yet"}, Insights: models.Insights{ResponseBody: "unsent draft"}},
	}
	if err := mails.SaveMails(ctx, "acme", old); err != nil {
		t.Fatal(err)
	}
	docs := []vector.Document{
		{ID: "sent", PageContent: old[0].Body, Metadata: map[string]any{vector.MetaSubmitted: true}},
		{ID: "draft", PageContent: old[1].Body},
	}
	if err := store.AddDocuments(ctx, "acme", docs); err != nil {
		t.Fatal(err)
	}
	return NewStoreRetriever(store, emb, mails), store, mails
}

func TestStoreRetriever_onlySubmittedNeighbours(t *testing.T) {
	r, store, _ := newRetrievalFixture(t)
	ctx := context.Background()
	_ = store.AddDocuments(ctx, "acme", []vector.Document{{ID: "focus", PageContent: "parcel not arrived"}})

	got, err := r.SimilarResponses(ctx, "acme", models.Mail{ID: "focus", Body: "parcel not arrived"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "Your parcel is on its way." {
		t.Errorf("responses = %v", got)
	}
}

func TestStoreRetriever_unembeddedMailUsesBody(t *testing.T) {
	r, _, _ := newRetrievalFixture(t)

	got, err := r.SimilarResponses(context.Background(), "acme", models.Mail{ID: "new", Body: "parcel has not arrived"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "Your parcel is on its way." {
		t.Errorf("responses = %v", got)
	}
}

func TestStoreRetriever_noSubmittedMails(t *testing.T) {
	r, _, _ := newRetrievalFixture(t)
	got, err := r.SimilarResponses(context.Background(), "globex", models.Mail{ID: "x", Body: "parcel"}, 5)
	if err != nil || len(got) != 0 {
		t.Errorf("empty tenant = %v, %v", got, err)
	}
}

func TestTranslateText_degradesToInput(t *testing.T) {
	model := newRoutedModel()
	model.on("text", func(string) (string, error) {
		return "", fmt.Errorf("%w: timeout", llm.ErrUnavailable)
	})
	tr := NewTranslator(generate.New(model), nil)
	if got := tr.TranslateText(context.Background(), "Hello", "German"); got != "Hello" {
		t.Errorf("got %q, want input back", got)
	}

	ok := NewTranslator(generate.New(newRoutedModel()), nil)
	if got := ok.TranslateText(context.Background(), "Hello", "German"); got != "Übersetzte Antwort" {
		t.Errorf("got %q", got)
	}
	if got := ok.TranslateText(context.Background(), "Hello", ""); got != "Hello" {
		t.Errorf("no language should return input, got %q", got)
	}
}

func TestTranslateBundle_sendsAllowlistOnly(t *testing.T) {
	model := newRoutedModel()
	var human string
	model.on("bundle", func(h string) (string, error) {
		human = h
		return newRoutedModel().handlers["bundle"](h)
	})
	tr := NewTranslator(generate.New(model), nil)
	m := &models.StoredMail{
		Mail:     models.Mail{ID: "m1", Subject: "S", Body: "B", SenderEmailAddress: "secret@example.com"},
		Insights: models.Insights{Category: "Delivery", Summary: "Sum", ResponseBody: "R"},
	}
	got, err := tr.TranslateBundle(context.Background(), m, "German")
	if err != nil {
		t.Fatal(err)
	}
	if got.ResponseBody == "" || len(got.KeyFacts) != 1 {
		t.Errorf("translation = %+v", got)
	}
	if strings.Contains(human, "secret@example.com") || strings.Contains(human, "Delivery") {
		t.Errorf("non-allowlisted fields sent: %s", human)
	}
}
