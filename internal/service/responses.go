package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/insights"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
	"go.uber.org/zap"
)

// SubmitResponse stores the agent's response, delivers the customer-facing
// version when a mailer is configured and marks the mail submitted.
func (s *Service) SubmitResponse(ctx context.Context, tenant string, req *models.ResponseRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	mail, err := s.loadMail(ctx, tenant, req.ID)
	if err != nil {
		return false, err
	}
	mail.ResponseBody = req.Response
	s.setTranslatedResponse(ctx, mail, req.Response)

	if s.mailer != nil {
		err := s.mailer.SendReply(ctx, mail.SenderEmailAddress, replySubject(mail), mail.Translation.ResponseBody, mail.MessageID)
		if err != nil {
			return false, fmt.Errorf("deliver response to %s: %w", mail.SenderEmailAddress, err)
		}
	}
	return s.setResponded(ctx, tenant, mail, true)
}

// RevokeResponse undoes SubmitResponse's responded and submitted flags.
func (s *Service) RevokeResponse(ctx context.Context, tenant, id string) (bool, error) {
	if id == "" {
		return false, &models.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	mail, err := s.loadMail(ctx, tenant, id)
	if err != nil {
		return false, err
	}
	return s.setResponded(ctx, tenant, mail, false)
}

func (s *Service) setResponded(ctx context.Context, tenant string, mail *models.StoredMail, responded bool) (bool, error) {
	mail.Responded = responded
	if err := s.mails.UpdateMail(ctx, tenant, mail); err != nil {
		return false, err
	}
	if err := s.store.UpdateMetadata(ctx, tenant, mail.ID, map[string]any{vector.MetaSubmitted: responded}); err != nil {
		s.logger.Error("submitted flag not updated in store",
			zap.String("tenant", tenant), zap.String("id", mail.ID), zap.Bool("submitted", responded), zap.Error(err))
		return true, &PartialError{Stage: StageEmbedding, IDs: []string{mail.ID}, Err: err}
	}
	s.logger.Info("response state changed",
		zap.String("tenant", tenant), zap.String("id", mail.ID), zap.Bool("responded", responded))
	return true, nil
}

// RegenerateResponse drafts a new response in the working language and
// refreshes its translated counterpart.
func (s *Service) RegenerateResponse(ctx context.Context, tenant string, req *models.RegenerateResponseRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	mail, err := s.loadMail(ctx, tenant, req.ID)
	if err != nil {
		return false, err
	}
	body, err := s.orchestrator.Drafter().Draft(ctx, mail.Mail, insights.DraftOptions{
		Tenant:                tenant,
		Rag:                   req.Rag,
		SelectedMails:         req.SelectedMails,
		AdditionalInformation: req.AdditionalInformation,
	})
	if err != nil {
		return false, fmt.Errorf("regenerate response for %s: %w", req.ID, err)
	}
	mail.ResponseBody = body
	s.setTranslatedResponse(ctx, mail, body)
	if err := s.mails.UpdateMail(ctx, tenant, mail); err != nil {
		return false, err
	}
	return true, nil
}

// TranslateResponse translates text into the sender's language. It never
// fails on the model side; the input is returned when translation fails.
func (s *Service) TranslateResponse(ctx context.Context, tenant string, req *models.ResponseRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	mail, err := s.loadMail(ctx, tenant, req.ID)
	if err != nil {
		return "", err
	}
	return s.orchestrator.Translator().TranslateText(ctx, req.Response, mail.LanguageNameDetermined), nil
}

// setTranslatedResponse fills translation.responseBody with body in the
// sender's language.
func (s *Service) setTranslatedResponse(ctx context.Context, mail *models.StoredMail, body string) {
	if mail.Translation == nil {
		mail.Translation = mail.PassthroughTranslation()
	}
	if mail.LanguageMatch {
		mail.Translation.ResponseBody = body
		return
	}
	mail.Translation.ResponseBody = s.orchestrator.Translator().TranslateText(ctx, body, mail.LanguageNameDetermined)
}

func replySubject(m *models.StoredMail) string {
	if strings.HasPrefix(strings.ToLower(m.Subject), "re:") {
		return m.Subject
	}
	return "Re: " + m.Subject
}
