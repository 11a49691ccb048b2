package usage

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.SaveCall(ctx, Record{TenantID: "cust_1", BotID: "bot-1", CallID: "c", Seconds: 60 + i}); err != nil {
			t.Fatalf("SaveCall() error = %v", err)
		}
	}
	if err := s.SaveCall(ctx, Record{TenantID: "cust_2", BotID: "bot-9", CallID: "x", Seconds: 5}); err != nil {
		t.Fatalf("SaveCall() error = %v", err)
	}

	recs, err := s.RecentCalls(ctx, "cust_1", 2)
	if err != nil {
		t.Fatalf("RecentCalls() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Newest first.
	if recs[0].Seconds != 62 || recs[1].Seconds != 61 {
		t.Fatalf("unexpected order: %+v", recs)
	}
	if recs[0].ID == "" || recs[0].StartedAt.IsZero() {
		t.Fatalf("record defaults not applied: %+v", recs[0])
	}
}
