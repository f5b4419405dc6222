package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
	"go.uber.org/zap"
)

// stubService records the tenant and request of the last call and answers
// with the configured values.
type stubService struct {
	tenant   string
	id       string
	err      error
	stored   []*models.StoredMail
	detail   *models.MailDetail
	results  []models.SimilarityResult
	response *models.ResponseRequest
	regen    *models.RegenerateResponseRequest
	find     *models.FindMailsRequest
	attrs    []models.AttributeDefinition
	panics   bool
}

func (s *stubService) GetMails(ctx context.Context, tenant string) ([]models.MailSummary, error) {
	s.tenant = tenant
	if s.panics {
		panic("boom")
	}
	return []models.MailSummary{{ID: "m1", Subject: "Order #5"}}, s.err
}

func (s *stubService) GetMail(ctx context.Context, tenant, id string) (*models.MailDetail, error) {
	s.tenant, s.id = tenant, id
	return s.detail, s.err
}

func (s *stubService) AddMails(ctx context.Context, tenant string, req *models.AddMailsRequest) ([]*models.StoredMail, error) {
	s.tenant = tenant
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.stored, s.err
}

func (s *stubService) DeleteMail(ctx context.Context, tenant, id string) (bool, error) {
	s.tenant, s.id = tenant, id
	return s.err == nil || errors.As(s.err, new(*service.PartialError)), s.err
}

func (s *stubService) SubmitResponse(ctx context.Context, tenant string, req *models.ResponseRequest) (bool, error) {
	s.tenant, s.response = tenant, req
	if err := req.Validate(); err != nil {
		return false, err
	}
	return s.err == nil, s.err
}

func (s *stubService) RevokeResponse(ctx context.Context, tenant, id string) (bool, error) {
	s.tenant, s.id = tenant, id
	return s.err == nil, s.err
}

func (s *stubService) RegenerateResponse(ctx context.Context, tenant string, req *models.RegenerateResponseRequest) (bool, error) {
	s.tenant, s.regen = tenant, req
	return s.err == nil, s.err
}

func (s *stubService) RegenerateInsights(ctx context.Context, tenant string, req *models.RegenerateInsightsRequest) (bool, error) {
	s.tenant = tenant
	return s.err == nil, s.err
}

func (s *stubService) TranslateResponse(ctx context.Context, tenant string, req *models.ResponseRequest) (string, error) {
	s.tenant, s.response = tenant, req
	return "Sehr geehrter Kunde", s.err
}

func (s *stubService) FindMails(ctx context.Context, tenant string, req *models.FindMailsRequest) ([]models.SimilarityResult, error) {
	s.tenant, s.find = tenant, req
	return s.results, s.err
}

func (s *stubService) GetAttributes(ctx context.Context, tenant string) ([]models.AttributeDefinition, error) {
	s.tenant = tenant
	return s.attrs, s.err
}

func (s *stubService) SetAttributes(ctx context.Context, tenant string, defs []models.AttributeDefinition) error {
	s.tenant, s.attrs = tenant, defs
	if err := models.ValidateAttributes(defs); err != nil {
		return err
	}
	return s.err
}

func (s *stubService) Status(ctx context.Context) (*service.Status, error) {
	return &service.Status{Mails: map[string]int64{"acme": 2}, TotalMails: 2}, s.err
}

type stubInbox []string

func (i stubInbox) Directories() []string { return i }

func newTestServer(svc MailService, inbox Inbox) http.Handler {
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: 8080, TenantHeader: "X-Tenant-ID"}
	return NewServer(svc, inbox, cfg, zap.NewNop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Tenant-ID", "acme")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	w := do(t, newTestServer(&stubService{}, nil), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" {
		t.Errorf("status field: got %q", out["status"])
	}
}

func TestTenantHeader(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc, nil)
	if w := do(t, h, http.MethodGet, "/api/v1/mails", nil); w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if svc.tenant != "acme" {
		t.Errorf("tenant: got %q", svc.tenant)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/mails", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || svc.tenant != "" {
		t.Errorf("missing header should select the default tenant: code %d tenant %q", w.Code, svc.tenant)
	}
}

func TestHandleGetMail(t *testing.T) {
	svc := &stubService{detail: &models.MailDetail{
		Mail:         &models.StoredMail{ID: "m1"},
		ClosestMails: []models.SimilarityResult{{Similarity: 0.9, Mail: &models.StoredMail{ID: "m2"}}},
	}}
	w := do(t, newTestServer(svc, nil), http.MethodGet, "/api/v1/mails/m1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if svc.id != "m1" {
		t.Errorf("id: got %q", svc.id)
	}
	var out models.MailDetail
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Mail.ID != "m1" || len(out.ClosestMails) != 1 || out.ClosestMails[0].Mail.ID != "m2" {
		t.Errorf("unexpected detail: %+v", out)
	}
}

func TestHandleAddMails(t *testing.T) {
	svc := &stubService{stored: []*models.StoredMail{{ID: "m1"}}}
	h := newTestServer(svc, nil)

	w := do(t, h, http.MethodPost, "/api/v1/mails", models.AddMailsRequest{
		Mails: []models.Mail{{Subject: "Order", Body: "Where is my order?"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/api/v1/mails", models.AddMailsRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: got %d", w.Code)
	}
}

func TestHandleAddMails_invalidBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/mails", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	newTestServer(&stubService{}, nil).ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil || out["error"] == "" {
		t.Errorf("expected an error body, got %s", w.Body.String())
	}
}

func TestHandleAddMails_partial(t *testing.T) {
	svc := &stubService{
		stored: []*models.StoredMail{{ID: "m1"}},
		err:    &service.PartialError{Stage: service.StageEmbedding, IDs: []string{"m1"}, Err: vector.ErrStoreUnavailable},
	}
	w := do(t, newTestServer(svc, nil), http.MethodPost, "/api/v1/mails", models.AddMailsRequest{
		Mails: []models.Mail{{Body: "hello"}},
	})
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Mails   []models.StoredMail `json:"mails"`
		Partial struct {
			Stage string   `json:"stage"`
			IDs   []string `json:"ids"`
		} `json:"partial"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Mails) != 1 || out.Partial.Stage != service.StageEmbedding || out.Partial.IDs[0] != "m1" {
		t.Errorf("unexpected partial body: %+v", out)
	}
}

func TestHandleSubmitResponse(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc, nil)
	w := do(t, h, http.MethodPost, "/api/v1/mails/m1/submit", map[string]string{"response": "Thanks"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if svc.response.ID != "m1" || svc.response.Response != "Thanks" {
		t.Errorf("request: got %+v", svc.response)
	}
	var out map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil || !out["submitted"] {
		t.Errorf("body: %s", w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/api/v1/mails/m1/submit", map[string]string{"response": " "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank response: got %d", w.Code)
	}
}

func TestHandleRegenerateResponse(t *testing.T) {
	svc := &stubService{}
	w := do(t, newTestServer(svc, nil), http.MethodPost, "/api/v1/mails/m1/regenerate-response",
		models.RegenerateResponseRequest{SelectedMails: []string{"m2"}, AdditionalInformation: "refund granted", Rag: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if svc.regen.ID != "m1" || !svc.regen.Rag || svc.regen.SelectedMails[0] != "m2" {
		t.Errorf("request: got %+v", svc.regen)
	}
}

func TestHandleTranslateResponse(t *testing.T) {
	svc := &stubService{}
	w := do(t, newTestServer(svc, nil), http.MethodPost, "/api/v1/mails/m1/translate-response",
		map[string]string{"response": "Dear customer"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["translation"] != "Sehr geehrter Kunde" {
		t.Errorf("translation: got %q", out["translation"])
	}
}

func TestHandleFindMails(t *testing.T) {
	svc := &stubService{}
	w := do(t, newTestServer(svc, nil), http.MethodPost, "/api/v1/mails/m1/similar",
		map[string]string{"searchKeywordSimilarMails": "invoice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if svc.find.ID != "m1" || svc.find.SearchKeywordSimilarMails != "invoice" {
		t.Errorf("request: got %+v", svc.find)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("no results should encode as an empty list, got %s", body)
	}
}

func TestHandleDeleteMail_partial(t *testing.T) {
	svc := &stubService{err: &service.PartialError{Stage: service.StageEmbedding, IDs: []string{"m1"}, Err: errors.New("down")}}
	w := do(t, newTestServer(svc, nil), http.MethodDelete, "/api/v1/mails/m1", nil)
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["deleted"] != true {
		t.Errorf("deleted: got %v", out["deleted"])
	}
}

func TestAttributes(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc, nil)
	defs := []models.AttributeDefinition{{Attribute: "product", Explanation: "the product concerned"}}
	if w := do(t, h, http.MethodPut, "/api/v1/attributes", defs); w.Code != http.StatusOK {
		t.Fatalf("put: got %d", w.Code)
	}
	if len(svc.attrs) != 1 || svc.attrs[0].Attribute != "product" {
		t.Errorf("attrs: got %+v", svc.attrs)
	}
	w := do(t, h, http.MethodPut, "/api/v1/attributes", []models.AttributeDefinition{{Attribute: ""}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unnamed attribute: got %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/attributes", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get: got %d", w.Code)
	}
}

func TestHandleStatusAndInbox(t *testing.T) {
	h := newTestServer(&stubService{}, stubInbox{"/var/spool/mail"})
	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	var st service.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || st.TotalMails != 2 {
		t.Errorf("status: code %d body %+v", w.Code, st)
	}

	w = do(t, h, http.MethodGet, "/api/v1/inbox", nil)
	var out struct {
		Watching    bool     `json:"watching"`
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Watching || len(out.Directories) != 1 || out.Directories[0] != "/var/spool/mail" {
		t.Errorf("inbox: got %+v", out)
	}
}

func TestRecoverer(t *testing.T) {
	w := do(t, newTestServer(&stubService{panics: true}, nil), http.MethodGet, "/api/v1/mails", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil || out["error"] == "" {
		t.Errorf("expected a JSON error body, got %s", w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ValidationError{Field: "id", Reason: "must not be empty"}, http.StatusBadRequest},
		{fmt.Errorf("load: %w", storage.ErrNotFound), http.StatusNotFound},
		{&generate.GenerationError{Schema: "insights", Attempts: 2, Err: errors.New("bad json")}, http.StatusBadGateway},
		{fmt.Errorf("query: %w", vector.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{llm.ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: table", vector.ErrInvalidTenant), http.StatusBadRequest},
		{fmt.Errorf("%w: save", storage.ErrPersistence), http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
