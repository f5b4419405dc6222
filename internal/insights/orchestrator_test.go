package insights

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

func englishMails() []models.Mail {
	return []models.Mail{
		{Subject: "Order #5 delayed", Body: "Where is my order #5?", SenderEmailAddress: "a@b.com", Sender: "Ann"},
		{ID: "keep-me", Subject: "Invoice", Body: "The invoice amount is wrong.", SenderEmailAddress: "c@d.com"},
	}
}

func TestProcess_preservesCountAndIDs(t *testing.T) {
	model := newRoutedModel()
	o := NewOrchestrator(generate.New(model), nil)

	out, err := o.Process(context.Background(), englishMails(), BatchOptions{Tenant: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d mails, want 2", len(out))
	}
	if out[0].ID == "" {
		t.Error("missing ID should be assigned")
	}
	if out[1].ID != "keep-me" {
		t.Errorf("explicit ID changed to %q", out[1].ID)
	}
	for _, m := range out {
		if m.Category != "Delivery" || m.ResponseBody == "" || !m.LanguageMatch {
			t.Errorf("unexpected merge: %+v", m)
		}
		if len(m.Missing) != 0 {
			t.Errorf("mail %s missing %v", m.ID, m.Missing)
		}
		if m.SuggestedActions[0].Descr == "" {
			t.Error("action description should be filled from the catalogue")
		}
	}
}

func TestProcess_languageMatchCopiesWithoutModelCall(t *testing.T) {
	model := newRoutedModel()
	o := NewOrchestrator(generate.New(model), nil)

	out, err := o.Process(context.Background(), englishMails(), BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if model.count("bundle") != 0 {
		t.Errorf("translation calls = %d, want 0", model.count("bundle"))
	}
	for _, m := range out {
		tr := m.Translation
		if tr == nil {
			t.Fatal("translation must always be present")
		}
		if tr.Subject != m.Subject || tr.Body != m.Body || tr.Summary != m.Summary || tr.ResponseBody != m.ResponseBody {
			t.Errorf("translation is not a verbatim copy: %+v", tr)
		}
		if len(tr.KeyFacts) != len(m.KeyFacts) {
			t.Errorf("key facts not copied")
		}
	}
}

func TestProcess_germanMailIsTranslated(t *testing.T) {
	model := newRoutedModel()
	o := NewOrchestrator(generate.New(model), nil, WithWorkingLanguage("English"))

	mails := []models.Mail{{
		Subject:            "Order #5 delayed",
		Body:               "Ich möchte wissen, wo meine Bestellung ist.",
		SenderEmailAddress: "a@b.com",
	}}
	out, err := o.Process(context.Background(), mails, BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m := out[0]
	if m.LanguageMatch || m.LanguageNameDetermined != "German" {
		t.Errorf("language = %v/%s", m.LanguageMatch, m.LanguageNameDetermined)
	}
	if m.ResponseBody != "Dear customer, we are looking into order #5." {
		t.Errorf("response should stay in the working language: %q", m.ResponseBody)
	}
	if m.Translation.ResponseBody != "Sehr geehrter Kunde, wir prüfen Bestellung #5." {
		t.Errorf("translated response = %q", m.Translation.ResponseBody)
	}
	if model.count("bundle") != 1 {
		t.Errorf("translation calls = %d, want 1", model.count("bundle"))
	}
	prompts := model.systemPrompts("bundle")
	if !strings.Contains(prompts[0], "German") {
		t.Error("bundle translation should target the detected language")
	}
}

func TestProcess_singleMailFailureIsIsolated(t *testing.T) {
	model := newRoutedModel()
	ok := model.handlers["insights"]
	model.on("insights", func(human string) (string, error) {
		if strings.Contains(human, "invoice") {
			return "not json at all", nil
		}
		return ok(human)
	})
	o := NewOrchestrator(generate.New(model), nil)

	out, err := o.Process(context.Background(), englishMails(), BatchOptions{})
	if err != nil {
		t.Fatalf("a single failing mail must not fail the batch: %v", err)
	}
	if len(out[0].Missing) != 0 {
		t.Errorf("healthy mail missing %v", out[0].Missing)
	}
	if !slices.Equal(out[1].Missing, []string{GroupInsights}) {
		t.Errorf("failing mail missing = %v", out[1].Missing)
	}
	if out[1].Category != "" || out[1].ResponseBody == "" {
		t.Errorf("failing mail should keep other groups: %+v", out[1])
	}
	if out[1].Translation == nil {
		t.Error("translation must be present even with a missing group")
	}
}

func TestProcess_branchFailingForEveryMailIsFatal(t *testing.T) {
	model := newRoutedModel()
	model.on("response", func(string) (string, error) { return `{"responseBody": ""}`, nil })
	o := NewOrchestrator(generate.New(model), nil)

	_, err := o.Process(context.Background(), englishMails(), BatchOptions{})
	if !errors.Is(err, generate.ErrGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
	var branch *BranchError
	if !errors.As(err, &branch) || branch.Branch != GroupResponse {
		t.Errorf("expected response branch error, got %v", err)
	}
}

func TestProcess_unavailableModelIsFatal(t *testing.T) {
	model := newRoutedModel()
	model.on("language", func(human string) (string, error) {
		if strings.Contains(human, "invoice") {
			return "", fmt.Errorf("%w: connection refused", llm.ErrUnavailable)
		}
		return `{"languageMatch": true, "languageNameDetermined": "English"}`, nil
	})
	o := NewOrchestrator(generate.New(model), nil)

	_, err := o.Process(context.Background(), englishMails(), BatchOptions{})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestProcess_translationFailureFallsBackToCopy(t *testing.T) {
	model := newRoutedModel()
	model.on("bundle", func(string) (string, error) { return `{"subject": "nur teilweise"}`, nil })
	o := NewOrchestrator(generate.New(model), nil)

	out, err := o.Process(context.Background(), []models.Mail{{Subject: "S", Body: "Meine Bestellung fehlt."}}, BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m := out[0]
	if !slices.Contains(m.Missing, GroupTranslation) {
		t.Errorf("missing = %v", m.Missing)
	}
	if m.Translation == nil || m.Translation.Body != m.Body {
		t.Errorf("fallback translation = %+v", m.Translation)
	}
}

func TestProcess_attributeBranch(t *testing.T) {
	model := newRoutedModel()
	o := NewOrchestrator(generate.New(model), nil)
	defs := []models.AttributeDefinition{
		{Attribute: "product", Explanation: "the product concerned", Values: []models.AttributeOption{{Value: "kettle", Explanation: "a kettle"}}},
		{Attribute: "channel", Explanation: "where it was bought"},
	}

	out, err := o.Process(context.Background(), englishMails()[:1], BatchOptions{Attributes: defs})
	if err != nil {
		t.Fatal(err)
	}
	attrs := out[0].MyAdditionalAttributes
	if len(attrs) != 1 || attrs[0].Attribute != "product" || attrs[0].ReturnValue != "kettle" {
		t.Errorf("attributes = %+v", attrs)
	}
	if !strings.Contains(model.systemPrompts("attributes")[0], "value 'kettle': a kettle") {
		t.Error("attribute definitions should be rendered into the prompt")
	}

	model2 := newRoutedModel()
	_, _ = NewOrchestrator(generate.New(model2), nil).Process(context.Background(), englishMails(), BatchOptions{})
	if model2.count("attributes") != 0 {
		t.Error("attribute branch should not run without definitions")
	}
}

func TestProcess_ragWithoutNeighboursStillDrafts(t *testing.T) {
	model := newRoutedModel()
	o := NewOrchestrator(generate.New(model), &fakeRetriever{})

	out, err := o.Process(context.Background(), englishMails()[:1], BatchOptions{Rag: true})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ResponseBody == "" {
		t.Error("draft expected without neighbours")
	}
	if !strings.Contains(model.systemPrompts("response")[0], "Responses the support team sent") {
		t.Error("rag mode should use the grounded template")
	}
}

func TestProcess_emptyBatch(t *testing.T) {
	out, err := NewOrchestrator(generate.New(newRoutedModel()), nil).Process(context.Background(), nil, BatchOptions{})
	if err != nil || out != nil {
		t.Errorf("empty batch = %v, %v", out, err)
	}
}

func TestProcess_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOrchestrator(generate.New(newRoutedModel()), nil).Process(ctx, englishMails(), BatchOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
