package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// parseEML reads an RFC 5322 message. The text part is preferred; an HTML-only
// message is converted to text.
func parseEML(content []byte) (*models.Mail, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	mail := &models.Mail{
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		Body:      env.Text,
	}
	if strings.TrimSpace(mail.Body) == "" && env.HTML != "" {
		mail.Body = HTMLToText(env.HTML)
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		mail.SenderEmailAddress = from[0].Address
		mail.Sender = from[0].Name
	}
	return mail, nil
}
