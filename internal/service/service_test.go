package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
)

const tenant = "acme"

func germanMail() models.Mail {
	return models.Mail{
		ID:                 "order-5",
		Subject:            "Bestellung #5 verspätet",
		Body:               "Hallo, meine Bestellung #5 ist noch nicht angekommen. Wo ist sie?",
		SenderEmailAddress: "kunde@example.de",
		Sender:             "Kunde",
		MessageID:          "<abc@example.de>",
	}
}

func englishMail(id, body string) models.Mail {
	return models.Mail{ID: id, Subject: "Question " + id, Body: body, SenderEmailAddress: id + "@example.com"}
}

func mustAdd(t *testing.T, f *fixture, mails ...models.Mail) []*models.StoredMail {
	t.Helper()
	out, err := f.svc.AddMails(context.Background(), tenant, &models.AddMailsRequest{Mails: mails})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAddMails_germanOrderScenario(t *testing.T) {
	f := newFixture(t)
	got := mustAdd(t, f, germanMail())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	m := got[0]
	if m.ID != "order-5" || m.LanguageMatch || m.LanguageNameDetermined != "German" {
		t.Errorf("language fields = %v %q", m.LanguageMatch, m.LanguageNameDetermined)
	}
	if m.Translation == nil || !strings.HasPrefix(m.Translation.ResponseBody, "DE: ") {
		t.Fatalf("translation = %+v", m.Translation)
	}
	if strings.HasPrefix(m.ResponseBody, "DE: ") {
		t.Errorf("response body should stay in the working language: %q", m.ResponseBody)
	}
	if m.SuggestedActions[0].Descr == "" {
		t.Error("action description should be filled on read")
	}
	doc, err := f.store.Get(context.Background(), tenant, "order-5")
	if err != nil {
		t.Fatalf("embedding missing: %v", err)
	}
	if doc.Metadata[vector.MetaSubmitted] != false {
		t.Errorf("submitted = %v", doc.Metadata[vector.MetaSubmitted])
	}
}

func TestAddMails_assignsIDsAndKeepsCount(t *testing.T) {
	f := newFixture(t)
	got := mustAdd(t, f, englishMail("", "first"), englishMail("", "second"), englishMail("given", "third"))
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	seen := map[string]bool{}
	for _, m := range got {
		if m.ID == "" || seen[m.ID] {
			t.Errorf("bad id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Translation == nil || m.Translation.Body != m.Body {
			t.Errorf("matching language should copy translation: %+v", m.Translation)
		}
	}
	if !seen["given"] {
		t.Error("explicit id not preserved")
	}
	if f.model.count("bundle") != 0 {
		t.Error("no bundle translation expected for English mails")
	}
}

func TestAddMails_validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddMails(context.Background(), tenant, &models.AddMailsRequest{})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if f.model.count("insights") != 0 {
		t.Error("model called for invalid request")
	}
}

func TestAddMails_embeddingFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.store.addErr = errStoreDown
	got, err := f.svc.AddMails(context.Background(), tenant, &models.AddMailsRequest{Mails: []models.Mail{englishMail("a", "hello")}})
	var perr *PartialError
	if !errors.As(err, &perr) || perr.Stage != StageEmbedding {
		t.Fatalf("err = %v, want embedding PartialError", err)
	}
	if !errors.Is(err, vector.ErrStoreUnavailable) {
		t.Error("partial error should wrap the store error")
	}
	if len(got) != 1 {
		t.Errorf("stored records should be returned, got %d", len(got))
	}
	if _, err := f.mails.GetMail(context.Background(), tenant, "a"); err != nil {
		t.Errorf("record should be stored: %v", err)
	}
}

func TestAddMails_keywordFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	errIndex := errors.New("index closed")
	f.index.indexErr = errIndex
	got, err := f.svc.AddMails(context.Background(), tenant, &models.AddMailsRequest{
		Mails: []models.Mail{englishMail("a", "hello"), englishMail("b", "hi")},
	})
	var perr *PartialError
	if !errors.As(err, &perr) || perr.Stage != StageKeyword {
		t.Fatalf("err = %v, want keyword PartialError", err)
	}
	if !errors.Is(err, errIndex) || len(perr.IDs) != 2 {
		t.Errorf("partial = %+v", perr)
	}
	if len(got) != 2 {
		t.Errorf("stored records should be returned, got %d", len(got))
	}
	if _, err := f.store.Get(context.Background(), tenant, "a"); err != nil {
		t.Errorf("embedding should be stored: %v", err)
	}
}

func TestAddMails_reingestKeepsSentResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := mustAdd(t, f, englishMail("a", "hello"))
	if _, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "a", Response: "Sent text"}); err != nil {
		t.Fatal(err)
	}

	again := mustAdd(t, f, englishMail("a", "hello again"))
	if len(again) != 1 {
		t.Fatalf("re-ingest returned %d mails", len(again))
	}
	m := again[0]
	if !m.Responded || m.ResponseBody != "Sent text" {
		t.Errorf("sent response lost: responded=%v body=%q", m.Responded, m.ResponseBody)
	}
	if m.Body != "hello again" {
		t.Errorf("body = %q, want the re-ingested body", m.Body)
	}
	if !m.CreatedAt.Equal(first[0].CreatedAt) {
		t.Errorf("created at = %v, want %v", m.CreatedAt, first[0].CreatedAt)
	}
	doc, err := f.store.Get(ctx, tenant, "a")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata[vector.MetaSubmitted] != true {
		t.Errorf("store row submitted = %v", doc.Metadata[vector.MetaSubmitted])
	}
}

func TestAddMails_modelUnavailableStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.model.fail("language", fmt.Errorf("%w: connection refused", llm.ErrUnavailable))
	_, err := f.svc.AddMails(context.Background(), tenant, &models.AddMailsRequest{Mails: []models.Mail{englishMail("a", "hello")}})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if list, _ := f.svc.GetMails(context.Background(), tenant); len(list) != 0 {
		t.Errorf("nothing should be stored, got %d", len(list))
	}
}

func TestAddMails_runsAttributeBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.SetAttributes(ctx, tenant, []models.AttributeDefinition{{Attribute: "product", Explanation: "what was bought"}}); err != nil {
		t.Fatal(err)
	}
	got := mustAdd(t, f, englishMail("a", "my kettle broke"))
	if len(got[0].MyAdditionalAttributes) != 1 || got[0].MyAdditionalAttributes[0].ReturnValue != "kettle" {
		t.Errorf("attributes = %+v", got[0].MyAdditionalAttributes)
	}
	if err := f.svc.SetAttributes(ctx, tenant, []models.AttributeDefinition{{Attribute: ""}}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("blank attribute err = %v", err)
	}
}

func TestGetMail_closestMailsExcludeFocus(t *testing.T) {
	f := newFixture(t)
	mustAdd(t, f,
		englishMail("a", "my parcel is late"),
		englishMail("b", "my parcel is very late"),
		englishMail("c", "invoice amount wrong"),
	)
	detail, err := f.svc.GetMail(context.Background(), tenant, "a")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Mail.ID != "a" {
		t.Errorf("mail = %s", detail.Mail.ID)
	}
	if len(detail.ClosestMails) != 2 {
		t.Fatalf("closest = %d, want 2", len(detail.ClosestMails))
	}
	if detail.ClosestMails[0].Mail.ID != "b" {
		t.Errorf("nearest = %s, want b", detail.ClosestMails[0].Mail.ID)
	}
	for _, r := range detail.ClosestMails {
		if r.Mail.ID == "a" {
			t.Error("focus returned as its own neighbour")
		}
	}
	if detail.ClosestMails[0].Similarity < detail.ClosestMails[1].Similarity {
		t.Error("closest mails not ordered by similarity")
	}

	if _, err := f.svc.GetMail(context.Background(), tenant, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing mail err = %v", err)
	}
	if _, err := f.svc.GetMail(context.Background(), "globex", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant err = %v", err)
	}
}

func TestSubmitAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, germanMail())

	ok, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "order-5", Response: "Your parcel ships today."})
	if err != nil || !ok {
		t.Fatalf("submit = %v, %v", ok, err)
	}
	detail, err := f.svc.GetMail(ctx, tenant, "order-5")
	if err != nil {
		t.Fatal(err)
	}
	m := detail.Mail
	if !m.Responded || m.ResponseBody != "Your parcel ships today." {
		t.Errorf("after submit: responded=%v body=%q", m.Responded, m.ResponseBody)
	}
	if m.Translation.ResponseBody != "DE: Your parcel ships today." {
		t.Errorf("translated response = %q", m.Translation.ResponseBody)
	}
	doc, _ := f.store.Get(ctx, tenant, "order-5")
	if doc.Metadata[vector.MetaSubmitted] != true {
		t.Errorf("store row submitted = %v", doc.Metadata[vector.MetaSubmitted])
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.mailer.sent))
	}
	sent := f.mailer.sent[0]
	if sent.to != "kunde@example.de" || sent.body != "DE: Your parcel ships today." || sent.inReplyTo != "<abc@example.de>" {
		t.Errorf("sent = %+v", sent)
	}
	if sent.subject != "Re: Bestellung #5 verspätet" {
		t.Errorf("subject = %q", sent.subject)
	}

	if ok, err := f.svc.RevokeResponse(ctx, tenant, "order-5"); err != nil || !ok {
		t.Fatalf("revoke = %v, %v", ok, err)
	}
	after, _ := f.mails.GetMail(ctx, tenant, "order-5")
	doc, _ = f.store.Get(ctx, tenant, "order-5")
	if after.Responded || doc.Metadata[vector.MetaSubmitted] != false {
		t.Errorf("revoke should invert submit: responded=%v submitted=%v", after.Responded, doc.Metadata[vector.MetaSubmitted])
	}
}

func TestSubmitResponse_failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello"))

	if _, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "nope", Response: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "a"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("empty response err = %v", err)
	}

	f.mailer.err = errors.New("smtp down")
	if _, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "a", Response: "x"}); err == nil {
		t.Error("delivery failure should fail the submit")
	}
	if m, _ := f.mails.GetMail(ctx, tenant, "a"); m.Responded {
		t.Error("undelivered response must not be marked responded")
	}

	f.mailer.err = nil
	f.store.updateErr = errStoreDown
	ok, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "a", Response: "x"})
	var perr *PartialError
	if !ok || !errors.As(err, &perr) {
		t.Errorf("store failure = %v, %v", ok, err)
	}
}

func TestSubmitResponse_matchingLanguageKeepsText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello"))
	if _, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "a", Response: "Thanks!"}); err != nil {
		t.Fatal(err)
	}
	m, _ := f.mails.GetMail(ctx, tenant, "a")
	if m.Translation.ResponseBody != "Thanks!" {
		t.Errorf("translation = %q", m.Translation.ResponseBody)
	}
	if f.model.count("text") != 0 {
		t.Error("no translation call expected")
	}
}

func TestRegenerateResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, germanMail(), englishMail("a", "hello"))

	ok, err := f.svc.RegenerateResponse(ctx, tenant, &models.RegenerateResponseRequest{
		ID:                    "order-5",
		AdditionalInformation: "Parcel left the warehouse.",
	})
	if err != nil || !ok {
		t.Fatalf("regenerate = %v, %v", ok, err)
	}
	m, _ := f.mails.GetMail(ctx, tenant, "order-5")
	if m.ResponseBody != "Dear customer, thank you for your mail." {
		t.Errorf("response = %q", m.ResponseBody)
	}
	if m.Translation.ResponseBody != "DE: "+m.ResponseBody {
		t.Errorf("translated response = %q", m.Translation.ResponseBody)
	}

	if _, err := f.svc.RegenerateResponse(ctx, tenant, &models.RegenerateResponseRequest{ID: "order-5", SelectedMails: []string{"a"}}); err != nil {
		t.Errorf("selected mails: %v", err)
	}
	if _, err := f.svc.RegenerateResponse(ctx, tenant, &models.RegenerateResponseRequest{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestTranslateResponse_degradesToInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, germanMail())

	got, err := f.svc.TranslateResponse(ctx, tenant, &models.ResponseRequest{ID: "order-5", Response: "Hello"})
	if err != nil || got != "DE: Hello" {
		t.Errorf("translate = %q, %v", got, err)
	}
	f.model.fail("text", fmt.Errorf("%w: timeout", llm.ErrUnavailable))
	got, err = f.svc.TranslateResponse(ctx, tenant, &models.ResponseRequest{ID: "order-5", Response: "Hello"})
	if err != nil || got != "Hello" {
		t.Errorf("degraded translate = %q, %v", got, err)
	}
}

func TestDeleteMail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello parcel"), englishMail("b", "hello invoice"))

	ok, err := f.svc.DeleteMail(ctx, tenant, "a")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if _, err := f.store.Get(ctx, tenant, "a"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("embedding should be gone: %v", err)
	}
	if ok, err := f.svc.DeleteMail(ctx, tenant, "a"); ok || !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete = %v, %v", ok, err)
	}

	f.store.deleteErr = errStoreDown
	ok, err = f.svc.DeleteMail(ctx, tenant, "b")
	var perr *PartialError
	if !ok || !errors.As(err, &perr) || perr.Stage != StageEmbedding {
		t.Errorf("store failure = %v, %v", ok, err)
	}
	if _, err := f.mails.GetMail(ctx, tenant, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("record should be deleted despite the store failure")
	}
}

func TestDeleteMail_keywordFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello parcel"))
	f.index.deleteErr = errors.New("index closed")

	ok, err := f.svc.DeleteMail(ctx, tenant, "a")
	var perr *PartialError
	if !ok || !errors.As(err, &perr) || perr.Stage != StageKeyword || perr.IDs[0] != "a" {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if _, err := f.store.Get(ctx, tenant, "a"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("embedding should be gone: %v", err)
	}
}

func TestFindMails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f,
		englishMail("focus", "my parcel is late"),
		englishMail("p", "my parcel is late again"),
		englishMail("i", "the invoice for my parcel is wrong"),
		englishMail("x", "unrelated question about opening hours"),
	)

	all, err := f.svc.FindMails(ctx, tenant, &models.FindMailsRequest{ID: "focus"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("without keyword = %d results, want 3", len(all))
	}

	got, err := f.svc.FindMails(ctx, tenant, &models.FindMailsRequest{ID: "focus", SearchKeywordSimilarMails: "invoice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Mail.ID != "i" {
		ids := make([]string, len(got))
		for i, r := range got {
			ids[i] = r.Mail.ID
		}
		t.Errorf("keyword results = %v, want [i]", ids)
	}

	got, err = f.svc.FindMails(ctx, tenant, &models.FindMailsRequest{ID: "focus", SearchKeywordSimilarMails: "parcel"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Mail.ID != "p" {
		t.Errorf("parcel results = %+v", got)
	}
	for _, r := range got {
		if r.Mail.ID == "focus" {
			t.Error("focus must not be returned")
		}
	}

	if _, err := f.svc.FindMails(ctx, tenant, &models.FindMailsRequest{ID: "nope", SearchKeywordSimilarMails: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown focus err = %v", err)
	}
}

func TestRegenerateInsights_keepsSentResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello"), englishMail("b", "hi"))
	if _, err := f.svc.SubmitResponse(ctx, tenant, &models.ResponseRequest{ID: "a", Response: "Sent text"}); err != nil {
		t.Fatal(err)
	}
	before := f.model.count("insights")

	ok, err := f.svc.RegenerateInsights(ctx, tenant, &models.RegenerateInsightsRequest{})
	if err != nil || !ok {
		t.Fatalf("regenerate = %v, %v", ok, err)
	}
	if f.model.count("insights") != before+2 {
		t.Errorf("insights calls = %d, want %d", f.model.count("insights"), before+2)
	}
	a, _ := f.mails.GetMail(ctx, tenant, "a")
	if !a.Responded || a.ResponseBody != "Sent text" {
		t.Errorf("sent response lost: responded=%v body=%q", a.Responded, a.ResponseBody)
	}
	b, _ := f.mails.GetMail(ctx, tenant, "b")
	if b.ResponseBody != "Dear customer, thank you for your mail." {
		t.Errorf("b response = %q", b.ResponseBody)
	}
}

func TestRegenerateInsights_keywordFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello"), englishMail("b", "hi"))
	f.index.indexErr = errors.New("index closed")

	ok, err := f.svc.RegenerateInsights(ctx, tenant, &models.RegenerateInsightsRequest{})
	var perr *PartialError
	if !ok || !errors.As(err, &perr) || perr.Stage != StageKeyword {
		t.Fatalf("regenerate = %v, %v", ok, err)
	}
	if len(perr.IDs) != 2 {
		t.Errorf("unindexed ids = %v, want both mails", perr.IDs)
	}
}

func TestGetMailsAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustAdd(t, f, englishMail("a", "hello"), englishMail("b", "hi"))
	if _, err := f.svc.AddMails(ctx, "globex", &models.AddMailsRequest{Mails: []models.Mail{englishMail("c", "hey")}}); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.GetMails(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Category != "Delivery" {
		t.Errorf("list = %+v", list)
	}
	st, err := f.svc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalMails != 3 || st.Mails["globex"] != 1 || st.KeywordDocs != 3 || !st.MailerActive {
		t.Errorf("status = %+v", st)
	}
}
