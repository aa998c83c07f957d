package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

const day = 24 * time.Hour

// maxRefillDays is the longest "Refill: N Days" policy a time.Duration holds.
const maxRefillDays = int(math.MaxInt64 / int64(day))

// Bucket is the eligibility outcome of one order for one action.
type Bucket string

const (
	BucketEligible Bucket = "eligible"

	// cancel
	BucketCompleted Bucket = "completed"
	BucketCanceled  Bucket = "canceled"
	BucketOther     Bucket = "other"

	// speed
	BucketFinished Bucket = "finished"
	BucketWaiting  Bucket = "waiting"

	// refill
	BucketNotCompleted Bucket = "not_completed"
	BucketNoRefill     Bucket = "no_refill"
	BucketExpired      Bucket = "expired"
	BucketNoDate       Bucket = "no_date"
	BucketNoPolicy     Bucket = "no_policy"
)

// Verdict is the result of Evaluate. Status is the normalized order status;
// Window and Remaining are set for BucketWaiting.
type Verdict struct {
	Bucket    Bucket
	Status    string
	Window    string
	Remaining time.Duration
}

// Eligible reports whether the order may be dispatched.
func (v Verdict) Eligible() bool { return v.Bucket == BucketEligible }

var (
	startWindowRe    = regexp.MustCompile(`(?i)Start\s*:\s*0-(\d+)\s*(minutes?|hours?)`)
	refillNoRe       = regexp.MustCompile(`(?i)Refill\s*:\s*No\b`)
	refillLifetimeRe = regexp.MustCompile(`(?i)Refill\s*:\s*Lifetime`)
	refillDaysRe     = regexp.MustCompile(`(?i)Refill\s*:\s*(\d+)\s*Days?`)
)

// Evaluate classifies o for action a at time now. It is a pure function.
func Evaluate(a domain.Action, o domain.Order, now time.Time) Verdict {
	status := o.NormalizedStatus()
	switch a {
	case domain.ActionCancel:
		return Verdict{Bucket: cancelBucket(status), Status: status}
	case domain.ActionSpeed:
		return speedVerdict(o, status, now)
	case domain.ActionRefill:
		return refillVerdict(o, status, now)
	}
	return Verdict{Bucket: BucketOther, Status: status}
}

func cancelBucket(status string) Bucket {
	switch status {
	case "pending", "in progress", "processing":
		return BucketEligible
	case "completed", "partial":
		return BucketCompleted
	case "canceled", "cancelled":
		return BucketCanceled
	}
	return BucketOther
}

func speedVerdict(o domain.Order, status string, now time.Time) Verdict {
	switch status {
	case "completed", "partial", "canceled", "cancelled":
		return Verdict{Bucket: BucketFinished, Status: status}
	}
	window, label, ok := StartWindow(o.ServiceName)
	if !ok {
		return Verdict{Bucket: BucketEligible, Status: status}
	}
	// Without a creation time the window cannot be shown to have passed.
	if !o.Created.IsZero() {
		elapsed := now.Sub(o.Created)
		if elapsed >= window {
			return Verdict{Bucket: BucketEligible, Status: status}
		}
		return Verdict{Bucket: BucketWaiting, Status: status, Window: label, Remaining: window - elapsed}
	}
	return Verdict{Bucket: BucketWaiting, Status: status, Window: label, Remaining: window}
}

func refillVerdict(o domain.Order, status string, now time.Time) Verdict {
	v := Verdict{Status: status}
	switch {
	case status != "completed":
		v.Bucket = BucketNotCompleted
	case refillNoRe.MatchString(o.ServiceName):
		v.Bucket = BucketNoRefill
	case refillLifetimeRe.MatchString(o.ServiceName):
		v.Bucket = BucketEligible
	default:
		m := refillDaysRe.FindStringSubmatch(o.ServiceName)
		if m == nil {
			v.Bucket = BucketNoPolicy
			break
		}
		days, err := strconv.Atoi(m[1])
		if err != nil || days > maxRefillDays {
			v.Bucket = BucketNoPolicy
			break
		}
		if o.Created.IsZero() {
			v.Bucket = BucketNoDate
			break
		}
		if now.Sub(o.Created) > time.Duration(days)*day {
			v.Bucket = BucketExpired
		} else {
			v.Bucket = BucketEligible
		}
	}
	return v
}

// StartWindow extracts the "Start: 0-N minutes|hours" window from a service
// name. label is the "0-N unit" text as written.
func StartWindow(serviceName string) (window time.Duration, label string, ok bool) {
	m := startWindowRe.FindStringSubmatch(serviceName)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return 0, "", false
	}
	unit := time.Minute
	if strings.HasPrefix(strings.ToLower(m[2]), "hour") {
		unit = time.Hour
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, "", false
	}
	return time.Duration(n) * unit, fmt.Sprintf("0-%d %s", n, m[2]), true
}
