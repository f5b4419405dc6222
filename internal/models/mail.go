// Package models defines the mail records, insight bundles, and request shapes
// shared by the pipeline, the service layer, and the HTTP API.
package models

import "time"

// Mail is an incoming customer mail as submitted for ingestion.
type Mail struct {
	ID                 string `json:"id,omitempty"`
	Subject            string `json:"subject"`
	Body               string `json:"body"`
	SenderEmailAddress string `json:"senderEmailAddress"`
	Sender             string `json:"sender,omitempty"`
	// MessageID is the RFC 5322 Message-ID when the mail came from a real mailbox.
	MessageID string `json:"messageId,omitempty"`
}

// KeyFact is a single categorised fact pulled out of a mail.
type KeyFact struct {
	Category string `json:"category"`
	Fact     string `json:"fact"`
}

// SuggestedAction is a follow-up the agent may take on a mail.
type SuggestedAction struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Descr string `json:"descr,omitempty"`
}

// AttributeValue is one tenant-defined attribute extracted from a mail.
type AttributeValue struct {
	Attribute   string `json:"attribute"`
	ReturnValue string `json:"returnValue"`
}

// Insights is the derived bundle for one mail.
type Insights struct {
	Category               string            `json:"category"`
	Sentiment              float64           `json:"sentiment"`
	Urgency                float64           `json:"urgency"`
	Summary                string            `json:"summary"`
	KeyFacts               []KeyFact         `json:"keyFacts"`
	SuggestedActions       []SuggestedAction `json:"suggestedActions"`
	LanguageMatch          bool              `json:"languageMatch"`
	LanguageNameDetermined string            `json:"languageNameDetermined"`
	ResponseBody           string            `json:"responseBody"`
	MyAdditionalAttributes []AttributeValue  `json:"myAdditionalAttributes"`
}

// Translation holds the translatable fields of a processed mail, either
// re-expressed in the sender's language or copied verbatim.
type Translation struct {
	Subject                string           `json:"subject"`
	Body                   string           `json:"body"`
	Sender                 string           `json:"sender"`
	Summary                string           `json:"summary"`
	KeyFacts               []KeyFact        `json:"keyFacts"`
	MyAdditionalAttributes []AttributeValue `json:"myAdditionalAttributes"`
	ResponseBody           string           `json:"responseBody"`
}

// StoredMail is a processed mail as persisted: the raw mail, its insights,
// and its translation.
type StoredMail struct {
	Mail
	Insights
	Responded   bool         `json:"responded"`
	Translation *Translation `json:"translation"`
	// Missing names the insight groups whose generation failed for this mail.
	Missing   []string  `json:"missing,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListView returns the list view of the mail.
func (m *StoredMail) ListView() MailSummary {
	return MailSummary{
		ID:        m.ID,
		Subject:   m.Subject,
		Body:      m.Body,
		Category:  m.Category,
		Sender:    m.Sender,
		Responded: m.Responded,
	}
}

// PassthroughTranslation copies the translatable fields without translating them.
func (m *StoredMail) PassthroughTranslation() *Translation {
	return &Translation{
		Subject:                m.Subject,
		Body:                   m.Body,
		Sender:                 m.Sender,
		Summary:                m.Summary,
		KeyFacts:               append([]KeyFact(nil), m.KeyFacts...),
		MyAdditionalAttributes: append([]AttributeValue(nil), m.MyAdditionalAttributes...),
		ResponseBody:           m.ResponseBody,
	}
}

// MailSummary is the list view returned by getMails.
type MailSummary struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Category  string `json:"category"`
	Sender    string `json:"sender"`
	Responded bool   `json:"responded"`
}

// SimilarityResult pairs a mail with its similarity to a focus mail.
type SimilarityResult struct {
	Similarity float64     `json:"similarity"`
	Mail       *StoredMail `json:"mail"`
}

// MailDetail is a mail together with its nearest neighbours.
type MailDetail struct {
	Mail         *StoredMail        `json:"mail"`
	ClosestMails []SimilarityResult `json:"closestMails"`
}

// AttributeDefinition is a tenant-defined attribute to extract from every mail.
type AttributeDefinition struct {
	Attribute   string            `json:"attribute"`
	Explanation string            `json:"explanation"`
	Values      []AttributeOption `json:"values,omitempty"`
}

// AttributeOption is one admissible value of an attribute.
type AttributeOption struct {
	Value       string `json:"value"`
	Explanation string `json:"explanation"`
}
