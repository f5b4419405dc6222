package models

// defaultActionDescriptions maps an action value to its agent-facing description.
var defaultActionDescriptions = map[string]string{
	"reply":           "Reply to the customer",
	"forward":         "Forward the mail to a colleague or another team",
	"escalate":        "Escalate the issue to a supervisor",
	"refund":          "Issue a refund",
	"replacement":     "Ship a replacement item",
	"return-label":    "Send a return shipping label",
	"track-shipment":  "Look up the shipment status",
	"cancel-order":    "Cancel the order",
	"update-address":  "Update the delivery address",
	"create-ticket":   "Open a ticket in the support system",
	"schedule-call":   "Schedule a call with the customer",
	"request-info":    "Ask the customer for missing information",
	"apply-discount":  "Apply a goodwill discount",
	"close":           "Close the case without further action",
	"check-inventory": "Check stock availability",
}

// ActionDescription returns the built-in description for value, or "".
func ActionDescription(value string) string {
	return defaultActionDescriptions[value]
}

// FillActionDescriptions sets Descr on every action that lacks one and has a
// catalogue entry.
func FillActionDescriptions(actions []SuggestedAction) {
	for i := range actions {
		if actions[i].Descr != "" {
			continue
		}
		if d, ok := defaultActionDescriptions[actions[i].Value]; ok {
			actions[i].Descr = d
		}
	}
}

// ActionValues returns the catalogue keys, used to steer the model.
func ActionValues() []string {
	values := make([]string, 0, len(defaultActionDescriptions))
	for v := range defaultActionDescriptions {
		values = append(values, v)
	}
	return values
}
