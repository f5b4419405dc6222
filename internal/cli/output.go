// Package cli renders mails and service status for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"github.com/jmsrpp/btp-cap-genai-rag/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" and "json".
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

var (
	heading   = color.New(color.FgCyan, color.Bold).SprintFunc()
	responded = color.New(color.FgGreen, color.Bold).SprintFunc()
	open      = color.New(color.FgYellow).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

const rule = "─────────────────────────────────────────────────────────"

// WriteMails writes the mail list.
func WriteMails(w io.Writer, mails []models.MailSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, mails)
	}
	fmt.Fprintf(w, "\n%d mail(s)\n\n", len(mails))
	for _, m := range mails {
		fmt.Fprintf(w, "%s %s  %s\n", state(m.Responded), m.ID, heading(m.Subject))
		fmt.Fprintf(w, "    %s | %s\n", orDash(m.Category), orDash(m.Sender))
		fmt.Fprintf(w, "    %s\n", faint(TruncateWords(m.Body, 20)))
	}
	return nil
}

// WriteMail writes one mail with its insights and closest mails.
func WriteMail(w io.Writer, detail *models.MailDetail, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, detail)
	}
	m := detail.Mail
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%s %s\n", state(m.Responded), heading(m.Subject))
	fmt.Fprintf(w, "ID: %s\n", m.ID)
	fmt.Fprintf(w, "From: %s <%s>\n", orDash(m.Sender), m.SenderEmailAddress)
	fmt.Fprintf(w, "Category: %s | Sentiment: %.1f | Urgency: %.1f | Language: %s\n",
		orDash(m.Category), m.Sentiment, m.Urgency, orDash(m.LanguageNameDetermined))
	if len(m.Missing) > 0 {
		fmt.Fprintf(w, "Missing insights: %s\n", strings.Join(m.Missing, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", m.Body)
	if m.Summary != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", heading("Summary"), m.Summary)
	}
	if len(m.KeyFacts) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading("Key facts"))
		for _, f := range m.KeyFacts {
			fmt.Fprintf(w, "  - %s: %s\n", f.Category, f.Fact)
		}
	}
	if len(m.SuggestedActions) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading("Suggested actions"))
		for _, a := range m.SuggestedActions {
			fmt.Fprintf(w, "  - %s (%s)\n", a.Value, orDash(a.Descr))
		}
	}
	if len(m.MyAdditionalAttributes) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading("Attributes"))
		for _, a := range m.MyAdditionalAttributes {
			fmt.Fprintf(w, "  - %s: %s\n", a.Attribute, a.ReturnValue)
		}
	}
	if m.ResponseBody != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", heading("Response"), m.ResponseBody)
	}
	if len(detail.ClosestMails) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading("Closest mails"))
		writeSimilar(w, detail.ClosestMails)
	}
	fmt.Fprintln(w)
	return nil
}

// WriteSimilar writes similarity results, most similar first.
func WriteSimilar(w io.Writer, results []models.SimilarityResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	fmt.Fprintf(w, "\nFound %d similar mail(s)\n\n", len(results))
	writeSimilar(w, results)
	return nil
}

func writeSimilar(w io.Writer, results []models.SimilarityResult) {
	for _, r := range results {
		fmt.Fprintf(w, "  %.4f %s %s  %s\n", r.Similarity, state(r.Mail.Responded), r.Mail.ID, utils.Truncate(r.Mail.Subject, 60))
	}
}

// WriteStatus writes mail counts per tenant.
func WriteStatus(w io.Writer, st *service.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "mails:         %d   # across all tenants\n", st.TotalMails)
	fmt.Fprintf(w, "keyword_docs:  %d   # documents in the keyword index\n", st.KeywordDocs)
	fmt.Fprintf(w, "mailer:        %t\n", st.MailerActive)
	if st.Disk != nil {
		fmt.Fprintf(w, "disk_usage:    %d   # bytes: database %d, vectors %d, keywords %d\n",
			st.Disk.Total(), st.Disk.Database, st.Disk.Vectors, st.Disk.Keywords)
	}
	if len(st.Mails) == 0 {
		return nil
	}
	tenants := make([]string, 0, len(st.Mails))
	for t := range st.Mails {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# per tenant")
	for _, t := range tenants {
		name := t
		if name == "" {
			name = "(default)"
		}
		fmt.Fprintf(w, "%-14s %d\n", name+":", st.Mails[t])
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func state(done bool) string {
	if done {
		return responded("[responded]")
	}
	return open("[open]")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
