package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
	"go.uber.org/zap"
)

// maxBody bounds request bodies; a full addMails batch fits comfortably.
const maxBody = 32 << 20

func (s *Server) handleGetMails(w http.ResponseWriter, r *http.Request) {
	mails, err := s.svc.GetMails(r.Context(), tenantFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "getMails", err)
		return
	}
	if mails == nil {
		mails = []models.MailSummary{}
	}
	s.respondJSON(w, http.StatusOK, mails)
}

func (s *Server) handleGetMail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetMail(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "getMail", err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAddMails(w http.ResponseWriter, r *http.Request) {
	var req models.AddMailsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("add mails request", zap.Int("mails", len(req.Mails)), zap.Bool("rag", req.Rag))
	stored, err := s.svc.AddMails(r.Context(), tenantFrom(r.Context()), &req)
	if err != nil {
		var partial *service.PartialError
		if errors.As(err, &partial) {
			s.respondPartial(w, partial, map[string]any{"mails": stored})
			return
		}
		s.fail(w, r, "addMails", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleDeleteMail(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.DeleteMail(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	s.respondBool(w, r, "deleteMail", "deleted", deleted, err)
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var req models.ResponseRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	ok, err := s.svc.SubmitResponse(r.Context(), tenantFrom(r.Context()), &req)
	s.respondBool(w, r, "submitResponse", "submitted", ok, err)
}

func (s *Server) handleRevokeResponse(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.RevokeResponse(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	s.respondBool(w, r, "revokeResponse", "revoked", ok, err)
}

func (s *Server) handleRegenerateResponse(w http.ResponseWriter, r *http.Request) {
	var req models.RegenerateResponseRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	ok, err := s.svc.RegenerateResponse(r.Context(), tenantFrom(r.Context()), &req)
	s.respondBool(w, r, "regenerateResponse", "regenerated", ok, err)
}

func (s *Server) handleRegenerateInsights(w http.ResponseWriter, r *http.Request) {
	var req models.RegenerateInsightsRequest
	if !s.decode(w, r, &req) {
		return
	}
	ok, err := s.svc.RegenerateInsights(r.Context(), tenantFrom(r.Context()), &req)
	s.respondBool(w, r, "regenerateInsights", "regenerated", ok, err)
}

func (s *Server) handleTranslateResponse(w http.ResponseWriter, r *http.Request) {
	var req models.ResponseRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	text, err := s.svc.TranslateResponse(r.Context(), tenantFrom(r.Context()), &req)
	if err != nil {
		s.fail(w, r, "translateResponse", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"translation": text})
}

func (s *Server) handleFindMails(w http.ResponseWriter, r *http.Request) {
	var req models.FindMailsRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	results, err := s.svc.FindMails(r.Context(), tenantFrom(r.Context()), &req)
	if err != nil {
		s.fail(w, r, "findMails", err)
		return
	}
	if results == nil {
		results = []models.SimilarityResult{}
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetAttributes(w http.ResponseWriter, r *http.Request) {
	defs, err := s.svc.GetAttributes(r.Context(), tenantFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "getAttributes", err)
		return
	}
	if defs == nil {
		defs = []models.AttributeDefinition{}
	}
	s.respondJSON(w, http.StatusOK, defs)
}

func (s *Server) handleSetAttributes(w http.ResponseWriter, r *http.Request) {
	var defs []models.AttributeDefinition
	if !s.decode(w, r, &defs) {
		return
	}
	if err := s.svc.SetAttributes(r.Context(), tenantFrom(r.Context()), defs); err != nil {
		s.fail(w, r, "setAttributes", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"attributes": len(defs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.fail(w, r, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	dirs := []string{}
	if s.inbox != nil {
		dirs = append(dirs, s.inbox.Directories()...)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"watching": s.inbox != nil, "directories": dirs})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
	return false
}

func (s *Server) respondBool(w http.ResponseWriter, r *http.Request, op, key string, ok bool, err error) {
	if err != nil {
		var partial *service.PartialError
		if errors.As(err, &partial) {
			s.respondPartial(w, partial, map[string]any{key: ok})
			return
		}
		s.fail(w, r, op, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{key: ok})
}

// respondPartial answers 207: the primary records were written, a secondary
// index was not updated.
func (s *Server) respondPartial(w http.ResponseWriter, partial *service.PartialError, body map[string]any) {
	s.logger.Warn("partial failure",
		zap.String("stage", partial.Stage),
		zap.Strings("ids", partial.IDs),
		zap.Error(partial.Err))
	msg := ""
	if partial.Err != nil {
		msg = partial.Err.Error()
	}
	body["partial"] = map[string]any{
		"stage": partial.Stage,
		"ids":   partial.IDs,
		"error": msg,
	}
	s.respondJSON(w, http.StatusMultiStatus, body)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	fields := []zap.Field{zap.String("op", op), zap.String("tenant", tenantFrom(r.Context())), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	s.respondError(w, status, fmt.Sprintf("%s: %v", op, err))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, vector.ErrInvalidTenant):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generate.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, vector.ErrStoreUnavailable), errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
