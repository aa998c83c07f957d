package repo

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

func TestGetReceipt_BlankInputs(t *testing.T) {
	db := newTestDB(t, &domain.InboundReceipt{})
	now := time.Now().UTC()

	if rec, err := GetReceipt(context.Background(), db, "  ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("blank conversation: (%v, %v)", rec, err)
	}
	if rec, err := GetReceipt(context.Background(), db, "c1", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("blank key: (%v, %v)", rec, err)
	}
}

func TestReceipts_CreateGetExpire(t *testing.T) {
	db := newTestDB(t, &domain.InboundReceipt{})
	ctx := context.Background()
	start := time.Now().UTC()

	rec, err := CreateReceipt(ctx, db, "c1", "k1", []string{"one", "two"}, 200, time.Hour)
	if err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	if _, err := CreateReceipt(ctx, db, "c1", "k1", nil, 200, time.Hour); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := GetReceipt(ctx, db, "c1", "k1", start)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	replies, err := ReceiptReplies(got)
	if err != nil || !reflect.DeepEqual(replies, []string{"one", "two"}) {
		t.Fatalf("replies=%v err=%v", replies, err)
	}

	if rec, err := GetReceipt(ctx, db, "c1", "k1", start.Add(2*time.Hour)); rec != nil || err != ErrNotFound {
		t.Fatalf("expired receipt returned: (%v, %v)", rec, err)
	}

	n, err := PruneReceipts(ctx, db, start.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PruneReceipts n=%d err=%v", n, err)
	}
}

func TestCreateReceipt_EmptyReplies(t *testing.T) {
	db := newTestDB(t, &domain.InboundReceipt{})
	rec, err := CreateReceipt(context.Background(), db, "c1", "k2", nil, 200, time.Minute)
	if err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if rec.Replies != "[]" {
		t.Fatalf("stored %q", rec.Replies)
	}
}

// Generic DB error path: insert without migrating the table.
func TestCreateReceipt_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	_, err := CreateReceipt(context.Background(), db, "cX", "kX", nil, 200, time.Minute)
	if err == nil || err == ErrDuplicate {
		t.Fatalf("expected a non-duplicate error, got %v", err)
	}
}
