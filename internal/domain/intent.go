package domain

import "strings"

// Action is an order command that can be forwarded to a provider.
type Action string

const (
	ActionNone   Action = ""
	ActionCancel Action = "cancel"
	ActionSpeed  Action = "speed"
	ActionRefill Action = "refill"
)

// ParseAction maps a loose action name onto an Action.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cancel":
		return ActionCancel, true
	case "speed", "speed up", "speedup":
		return ActionSpeed, true
	case "refill":
		return ActionRefill, true
	}
	return ActionNone, false
}

// Title returns the capitalised action name used in replies.
func (a Action) Title() string {
	if a == ActionNone {
		return ""
	}
	return strings.ToUpper(string(a[:1])) + string(a[1:])
}

// Source tells which classifier produced an intent.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceFallback      Source = "fallback"
)

// Intent is the ephemeral result of classifying one message.
//
// When Action is set and the pipeline runs, OrderIDs must be non-empty after
// deduplication or the caller asks for an order id instead of dispatching.
type Intent struct {
	Action     Action
	OrderIDs   []string
	Confidence float64
	Source     Source
	// Rule names the matcher layer that fired (tight, separated, proximity,
	// keyword) or "model" for the fallback classifier.
	Rule string
}

// HasAction reports whether the intent carries an order action.
func (i Intent) HasAction() bool { return i.Action != ActionNone }

// Topic is a non-order intent handled by the conversational layer.
type Topic string

const (
	TopicNone           Topic = ""
	TopicThanks         Topic = "thanks"
	TopicLogout         Topic = "logout"
	TopicHelp           Topic = "help"
	TopicBalance        Topic = "balance"
	TopicSpent          Topic = "spent"
	TopicAccountSummary Topic = "balance_and_spent"
	TopicServices       Topic = "services"
	TopicSite           Topic = "site"
	TopicTerms          Topic = "terms"
	TopicRefundPolicy   Topic = "refund_policy"
	TopicGeneral        Topic = "general"
)
