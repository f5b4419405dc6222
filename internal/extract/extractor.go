// Package extract turns spool files into mails: RFC 5322 messages, plain
// text, HTML and PDF exports.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// Extractor reads mail files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns the mail it holds. Files other
// than .eml carry no headers, so the subject is the file name without its
// extension.
func (e *Extractor) Extract(path string) (*models.Mail, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	mail, err := e.ExtractBytes(content, ext)
	if err != nil {
		return nil, err
	}
	if mail.Subject == "" && ext != ".eml" {
		mail.Subject = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return mail, nil
}

// ExtractBytes parses content according to ext, which includes the leading dot.
// Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (*models.Mail, error) {
	var (
		mail *models.Mail
		err  error
	)
	switch ext {
	case ".eml":
		mail, err = parseEML(content)
	case ".pdf":
		var text string
		text, err = extractPDF(content)
		mail = &models.Mail{Body: text}
	case ".html", ".htm":
		mail = &models.Mail{Body: HTMLToText(EnsureUTF8(content))}
	default:
		mail = &models.Mail{Body: EnsureUTF8(content)}
	}
	if err != nil {
		return nil, err
	}
	mail.Body = NormalizeBody(mail.Body)
	if strings.TrimSpace(mail.Body) == "" {
		return nil, fmt.Errorf("no body text found")
	}
	return mail, nil
}
