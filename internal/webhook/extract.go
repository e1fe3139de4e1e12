package webhook

import (
	"encoding/json"
	"strings"
)

// The provider's payload layout has changed over time, so each value is
// looked up under several candidate paths. Dots walk nested objects.
var (
	EventFields = []string{"event", "event_key", "status", "type"}
	EmailFields = []string{"buyer_email", "email", "customer_email", "data.buyer.email", "subscription.customer.email"}

	// IDFields name the provider's delivery id; TransactionFields the payment
	// every event about one purchase shares.
	IDFields          = []string{"id", "event_id"}
	TransactionFields = []string{"data.purchase.transaction", "purchase.transaction", "transaction"}

	// TokenHeaders are the header names that may carry the shared secret.
	TokenHeaders = []string{"X-Hotmart-Hottok", "Hottok", "X-Webhook-Token"}
)

// Fields is what the normalizer needs from a raw event.
type Fields struct {
	Event       string
	Email       string
	ID          string
	Transaction string
}

// Extract pulls the event name, buyer email and delivery identity from raw.
// Bodies that are not a JSON object yield empty fields rather than an error.
func Extract(raw []byte) Fields {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Fields{}
	}
	return Fields{
		Event:       firstString(doc, EventFields),
		Email:       firstString(doc, EmailFields),
		ID:          firstString(doc, IDFields),
		Transaction: firstString(doc, TransactionFields),
	}
}

func firstString(doc map[string]any, paths []string) string {
	for _, p := range paths {
		if s := lookup(doc, p); s != "" {
			return s
		}
	}
	return ""
}

func lookup(doc map[string]any, path string) string {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		if cur, ok = obj[part]; !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}
