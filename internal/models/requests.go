package models

import (
	"fmt"
	"strings"
)

// MaxBatchSize caps the number of mails accepted by one addMails call.
const MaxBatchSize = 100

// AddMailsRequest is the input of addMails.
type AddMailsRequest struct {
	Mails []Mail `json:"mails"`
	Rag   bool   `json:"rag"`
}

// Validate ensures the batch is non-empty, bounded, and every mail has a body.
// Duplicate explicit IDs are rejected.
func (r *AddMailsRequest) Validate() error {
	if len(r.Mails) == 0 {
		return invalid("mails", "at least one mail is required")
	}
	if len(r.Mails) > MaxBatchSize {
		return invalid("mails", fmt.Sprintf("at most %d mails per request", MaxBatchSize))
	}
	seen := make(map[string]bool, len(r.Mails))
	for i, m := range r.Mails {
		if strings.TrimSpace(m.Body) == "" {
			return invalid(fmt.Sprintf("mails[%d].body", i), "must not be empty")
		}
		if m.ID == "" {
			continue
		}
		if seen[m.ID] {
			return invalid(fmt.Sprintf("mails[%d].id", i), "duplicate id "+m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// ResponseRequest is the input of submitResponse and translateResponse.
type ResponseRequest struct {
	ID       string `json:"id"`
	Response string `json:"response"`
}

// Validate requires an id and a non-empty response.
func (r *ResponseRequest) Validate() error {
	if r.ID == "" {
		return invalid("id", "must not be empty")
	}
	if strings.TrimSpace(r.Response) == "" {
		return invalid("response", "must not be empty")
	}
	return nil
}

// RegenerateResponseRequest is the input of regenerateResponse.
type RegenerateResponseRequest struct {
	ID                    string   `json:"id"`
	SelectedMails         []string `json:"selectedMails"`
	AdditionalInformation string   `json:"additionalInformation"`
	Rag                   bool     `json:"rag"`
}

// Validate requires an id and drops blank selected ids.
func (r *RegenerateResponseRequest) Validate() error {
	if r.ID == "" {
		return invalid("id", "must not be empty")
	}
	selected := r.SelectedMails[:0]
	for _, id := range r.SelectedMails {
		if id = strings.TrimSpace(id); id != "" && id != r.ID {
			selected = append(selected, id)
		}
	}
	r.SelectedMails = selected
	return nil
}

// RegenerateInsightsRequest is the input of regenerateInsights.
type RegenerateInsightsRequest struct {
	Rag bool `json:"rag"`
}

// FindMailsRequest is the input of findMails.
type FindMailsRequest struct {
	ID                        string `json:"id"`
	SearchKeywordSimilarMails string `json:"searchKeywordSimilarMails"`
}

// Validate requires the focus id.
func (r *FindMailsRequest) Validate() error {
	if r.ID == "" {
		return invalid("id", "must not be empty")
	}
	r.SearchKeywordSimilarMails = strings.TrimSpace(r.SearchKeywordSimilarMails)
	return nil
}

// ValidateAttributes requires every definition to be named and names to be unique.
func ValidateAttributes(defs []AttributeDefinition) error {
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		name := strings.TrimSpace(d.Attribute)
		if name == "" {
			return invalid(fmt.Sprintf("attributes[%d].attribute", i), "must not be empty")
		}
		if seen[name] {
			return invalid(fmt.Sprintf("attributes[%d].attribute", i), "duplicate attribute "+name)
		}
		seen[name] = true
	}
	return nil
}
