package intent

import (
	"regexp"
	"strings"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// TopicRule binds a non-order topic to a pattern over normalized text.
type TopicRule struct {
	Topic   domain.Topic
	Pattern *regexp.Regexp
}

// Topics is evaluated top to bottom; the first rule that matches wins, so
// narrower rules come before the broad ones they overlap with.
var Topics = []TopicRule{
	{domain.TopicLogout, regexp.MustCompile(`\b(?:log ?out|log ?off|sign ?out|switch account|change account)\b`)},
	{domain.TopicRefundPolicy, regexp.MustCompile(`\b(?:refund|return) ?polic(?:y|ies)\b`)},
	{domain.TopicTerms, regexp.MustCompile(`\b(?:terms(?: of service| and conditions)?|tos)\b`)},
	{domain.TopicAccountSummary, regexp.MustCompile(`\bbalance\b.*\bspen[dt]|\bspen[dt]\w*\b.*\bbalance\b|\baccount (?:summary|info)\b`)},
	{domain.TopicBalance, regexp.MustCompile(`\b(?:balance|bal|funds)\b`)},
	{domain.TopicSpent, regexp.MustCompile(`\b(?:spent|spend|spending|kharch\w*)\b`)},
	{domain.TopicThanks, regexp.MustCompile(`\b(?:thanks?|thank ?(?:you|u)|thanku|thx|tnx|tysm|shukriy?a|shukria|dhanyavaa?d|jazakallah)\b`)},
	{domain.TopicHelp, regexp.MustCompile(`\b(?:help|menu|commands?|madad)\b`)},
	{domain.TopicServices, regexp.MustCompile(`\b(?:services|service list|price list|rates)\b`)},
	{domain.TopicSite, regexp.MustCompile(`\b(?:website|site|panel link)\b`)},
}

var (
	detailsBefore = regexp.MustCompile(`\b(?:details?|status|info|check)\b[^0-9]{0,16}#?(\d{4,})\b`)
	detailsAfter  = regexp.MustCompile(`\b#?(\d{4,})\b[\s:#,\-]*(?:details?|status)\b`)
	bareID        = regexp.MustCompile(`^#?(\d{4,})$`)
)

// Topic returns the first topic whose rule matches raw, or domain.TopicNone.
func Topic(raw string) domain.Topic {
	text := Normalize(raw)
	for _, r := range Topics {
		if r.Pattern.MatchString(text) {
			return r.Topic
		}
	}
	return domain.TopicNone
}

// DetailsOrderID recognises "details 123456" and "123456 status".
func DetailsOrderID(raw string) (string, bool) {
	text := Normalize(raw)
	for _, re := range []*regexp.Regexp{detailsBefore, detailsAfter} {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// BareOrderID recognises a message that is nothing but an order id.
func BareOrderID(raw string) (string, bool) {
	text := strings.TrimRight(Normalize(raw), ".!?")
	if m := bareID.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}
