package insights

import (
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

type keyFactOutput struct {
	Category string `json:"category" validate:"required" desc:"category of the fact, e.g. order number, product, date, location"`
	Fact     string `json:"fact" validate:"required" desc:"the fact itself as stated in the mail"`
}

type actionOutput struct {
	Type  string `json:"type" validate:"required" desc:"kind of follow-up, e.g. Order, Shipment, Customer, Case"`
	Value string `json:"value" validate:"required" desc:"identifier of the action"`
}

type insightOutput struct {
	Category         string          `json:"category" validate:"required" desc:"short category of the customer request, e.g. Delivery, Refund, Complaint, Question"`
	Sentiment        *float64        `json:"sentiment" validate:"required,gte=-1,lte=1" desc:"sentiment of the mail from -1 (very negative) to 1 (very positive)"`
	Urgency          *float64        `json:"urgency" validate:"required,gte=0,lte=1" desc:"urgency of the request from 0 (not urgent) to 1 (extremely urgent)"`
	Summary          string          `json:"summary" validate:"required" desc:"summary of the mail in at most three sentences"`
	KeyFacts         []keyFactOutput `json:"keyFacts" validate:"required,dive" desc:"facts from the mail relevant for processing the request"`
	SuggestedActions []actionOutput  `json:"suggestedActions" validate:"required,dive" desc:"follow-up actions the support agent should take"`
}

type languageOutput struct {
	LanguageMatch          *bool  `json:"languageMatch" validate:"required" desc:"true if the mail is written in the working language, false otherwise"`
	LanguageNameDetermined string `json:"languageNameDetermined" validate:"required" desc:"English name of the language the mail is written in, e.g. German"`
}

type responseOutput struct {
	ResponseBody string `json:"responseBody" validate:"required" desc:"the full response mail body, including greeting and closing"`
}

type attributeOutput struct {
	Attribute   string `json:"attribute" validate:"required" desc:"name of the attribute exactly as defined"`
	ReturnValue string `json:"returnValue" validate:"required" desc:"the value that best matches the mail, or 'No information provided'"`
}

type attributesOutput struct {
	MyAdditionalAttributes []attributeOutput `json:"myAdditionalAttributes" validate:"required,dive" desc:"one entry per defined attribute"`
}

// translationOutput uses pointers so that fields legitimately empty in the
// source still have to be present.
type translationOutput struct {
	Subject                *string           `json:"subject" validate:"required" desc:"translated subject"`
	Body                   *string           `json:"body" validate:"required" desc:"translated mail body"`
	Sender                 *string           `json:"sender" validate:"required" desc:"sender name, translated only if it is a role or department"`
	Summary                *string           `json:"summary" validate:"required" desc:"translated summary"`
	KeyFacts               []keyFactOutput   `json:"keyFacts" validate:"required" desc:"translated key facts, same order as the input"`
	MyAdditionalAttributes []attributeOutput `json:"myAdditionalAttributes" validate:"required" desc:"additional attributes with translated return values, same order as the input"`
	ResponseBody           *string           `json:"responseBody" validate:"required" desc:"translated response body"`
}

type responseTranslationOutput struct {
	ResponseBody *string `json:"responseBody" validate:"required" desc:"the translated response body"`
}

var (
	insightSchema             = generate.SchemaFor[insightOutput]("mail_insights")
	languageSchema            = generate.SchemaFor[languageOutput]("mail_language")
	responseSchema            = generate.SchemaFor[responseOutput]("mail_response")
	attributesSchema          = generate.SchemaFor[attributesOutput]("additional_attributes")
	translationSchema         = generate.SchemaFor[translationOutput]("mail_insights_translation")
	responseTranslationSchema = generate.SchemaFor[responseTranslationOutput]("mail_response_translation")
)

func toKeyFacts(in []keyFactOutput) []models.KeyFact {
	out := make([]models.KeyFact, len(in))
	for i, f := range in {
		out[i] = models.KeyFact{Category: f.Category, Fact: f.Fact}
	}
	return out
}

func fromKeyFacts(in []models.KeyFact) []keyFactOutput {
	out := make([]keyFactOutput, len(in))
	for i, f := range in {
		out[i] = keyFactOutput{Category: f.Category, Fact: f.Fact}
	}
	return out
}

func toAttributes(in []attributeOutput) []models.AttributeValue {
	out := make([]models.AttributeValue, len(in))
	for i, a := range in {
		out[i] = models.AttributeValue{Attribute: a.Attribute, ReturnValue: a.ReturnValue}
	}
	return out
}

func fromAttributes(in []models.AttributeValue) []attributeOutput {
	out := make([]attributeOutput, len(in))
	for i, a := range in {
		out[i] = attributeOutput{Attribute: a.Attribute, ReturnValue: a.ReturnValue}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
