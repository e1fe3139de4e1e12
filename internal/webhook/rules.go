package webhook

import (
	"strings"

	"winsbygroup.com/licserver/internal/normalize"
)

type Classification string

const (
	Renew   Classification = "renew"
	Cancel  Classification = "cancel"
	Unknown Classification = "unknown"
)

// Rule maps an event name containing Substring to a classification.
type Rule struct {
	Substring      string
	Classification Classification
}

// Rules is evaluated in order and the first match wins. The cancel family
// comes first so names such as PURCHASE_APPROVED_REFUNDED never renew.
// Substrings are lower case; event names are case folded before matching.
// PURCHASE_COMPLETE follows PURCHASE_APPROVED for the same payment and does
// not renew a second time.
var Rules = []Rule{
	{"refund", Cancel},
	{"reembols", Cancel},
	{"chargeback", Cancel},
	{"expired", Cancel},
	{"expirad", Cancel},
	{"cancel", Cancel},
	{"approved", Renew},
	{"aprovad", Renew},
}

// Classify matches event against rules. An empty event is Unknown.
func Classify(rules []Rule, event string) Classification {
	ev := normalize.Fold(event)
	if ev == "" {
		return Unknown
	}
	for _, r := range rules {
		if strings.Contains(ev, r.Substring) {
			return r.Classification
		}
	}
	return Unknown
}
