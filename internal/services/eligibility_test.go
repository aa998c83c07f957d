package services

import (
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

func TestEvaluate_Cancel(t *testing.T) {
	now := time.Now()
	cases := map[string]Bucket{
		"Pending":     BucketEligible,
		"In progress": BucketEligible,
		"in_progress": BucketEligible,
		"Processing":  BucketEligible,
		"Completed":   BucketCompleted,
		"Partial":     BucketCompleted,
		"Canceled":    BucketCanceled,
		"cancelled":   BucketCanceled,
		"Refunded":    BucketOther,
		"":            BucketOther,
	}
	for status, want := range cases {
		v := Evaluate(domain.ActionCancel, domain.Order{ID: "1", Status: status}, now)
		if v.Bucket != want {
			t.Fatalf("cancel %q -> %s; want %s", status, v.Bucket, want)
		}
	}
}

func TestEvaluate_Speed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, st := range []string{"completed", "Partial", "canceled"} {
		v := Evaluate(domain.ActionSpeed, domain.Order{Status: st}, now)
		if v.Bucket != BucketFinished {
			t.Fatalf("speed %q -> %s", st, v.Bucket)
		}
	}

	noWindow := domain.Order{Status: "pending", ServiceName: "IG Likes [Max 10K]"}
	if v := Evaluate(domain.ActionSpeed, noWindow, now); !v.Eligible() {
		t.Fatalf("no window should be eligible, got %s", v.Bucket)
	}

	inside := domain.Order{Status: "in progress", ServiceName: "IG Likes | Start: 0-2 hours", Created: now.Add(-30 * time.Minute)}
	v := Evaluate(domain.ActionSpeed, inside, now)
	if v.Bucket != BucketWaiting || v.Window != "0-2 hours" || v.Remaining != 90*time.Minute {
		t.Fatalf("inside window -> %+v", v)
	}

	passed := inside
	passed.Created = now.Add(-2 * time.Hour)
	if v := Evaluate(domain.ActionSpeed, passed, now); !v.Eligible() {
		t.Fatalf("window elapsed should be eligible, got %s", v.Bucket)
	}

	noDate := domain.Order{Status: "pending", ServiceName: "Start: 0-30 minutes"}
	if v := Evaluate(domain.ActionSpeed, noDate, now); v.Bucket != BucketWaiting || v.Remaining != 30*time.Minute {
		t.Fatalf("no creation date -> %+v", v)
	}
}

func TestEvaluate_Refill(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		order domain.Order
		want  Bucket
	}{
		{"not completed", domain.Order{Status: "pending", ServiceName: "Refill: Lifetime"}, BucketNotCompleted},
		{"no refill", domain.Order{Status: "completed", ServiceName: "TT Views | Refill: No"}, BucketNoRefill},
		{"lifetime", domain.Order{Status: "Completed", ServiceName: "Refill : Lifetime"}, BucketEligible},
		{"within days", domain.Order{Status: "completed", ServiceName: "Refill: 30 Days", Created: now.AddDate(0, 0, -3)}, BucketEligible},
		{"expired", domain.Order{Status: "completed", ServiceName: "Refill: 5 Days", Created: now.AddDate(0, 0, -6)}, BucketExpired},
		{"no date", domain.Order{Status: "completed", ServiceName: "Refill: 5 Days"}, BucketNoDate},
		{"no policy", domain.Order{Status: "completed", ServiceName: "YT Subscribers"}, BucketNoPolicy},
		{"largest days", domain.Order{Status: "completed", ServiceName: "Refill: 106751 Days", Created: now.AddDate(-5, 0, 0)}, BucketEligible},
		{"days past duration range", domain.Order{Status: "completed", ServiceName: "Refill: 200000 Days", Created: now.AddDate(-5, 0, 0)}, BucketNoPolicy},
		{"days past int range", domain.Order{Status: "completed", ServiceName: "Refill: 99999999999999999999 Days", Created: now.AddDate(0, 0, -1)}, BucketNoPolicy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if v := Evaluate(domain.ActionRefill, tc.order, now); v.Bucket != tc.want {
				t.Fatalf("got %s; want %s", v.Bucket, tc.want)
			}
		})
	}
}

func TestStartWindow(t *testing.T) {
	if _, _, ok := StartWindow("Start: 0-0 hours"); ok {
		t.Fatalf("zero window should be ignored")
	}
	if _, _, ok := StartWindow("Start: 0-9999999999 hours"); ok {
		t.Fatalf("window past the duration range should be ignored")
	}
	d, label, ok := StartWindow("x START:0-45 minutes y")
	if !ok || d != 45*time.Minute || label != "0-45 minutes" {
		t.Fatalf("got %v %q %v", d, label, ok)
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		12 * time.Minute:             "12 min",
		time.Hour:                    "1 hour",
		3 * time.Hour:                "3 hours",
		time.Hour + 5*time.Minute:    "1 hour 5 min",
		2*time.Hour + 29*time.Second: "2 hours",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%v) = %q; want %q", d, got, want)
		}
	}
}

func TestReplies_Links(t *testing.T) {
	r := Replies{SiteURL: "https://panel.example/"}
	if got := r.Link(domain.TopicRefundPolicy); !strings.HasSuffix(got, "https://panel.example/refund-policy") {
		t.Fatalf("refund link = %q", got)
	}
	if got := r.Link(domain.TopicSite); !strings.HasSuffix(got, "https://panel.example/") {
		t.Fatalf("site link = %q", got)
	}
	if got := r.OTPSent("77"); !strings.Contains(got, "https://panel.example/viewticket/77") {
		t.Fatalf("otp sent = %q", got)
	}
	if got := (Replies{}).OTPSent("77"); strings.Contains(got, "viewticket") {
		t.Fatalf("no site url should omit the ticket link: %q", got)
	}
}
