package jobs

import (
	"context"
	"errors"
	"testing"

	"atelier/internal/queue"
	"atelier/internal/testsupport"
)

func TestSubmitRollsBackWholeBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	trigger := &testsupport.CountingTrigger{}
	m := NewManager(cfg, db, nil, nil, WithTrigger(trigger))

	injected := errors.New("disk full")
	m.beforeEnqueue = func(index int) error {
		if index == 2 {
			return injected
		}
		return nil
	}
	_, err := m.Submit(context.Background(), SubmitRequest{PromptJSON: `{"prompt":"x"}`, Count: 3})
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	for _, table := range []string{"generations", "queue_items"} {
		var n int
		if err := db.SQL().QueryRow(`SELECT COUNT(1) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected %s empty after rollback, got %d", table, n)
		}
	}
	if trigger.Calls() != 0 {
		t.Fatalf("failed batch must not trigger, got %d", trigger.Calls())
	}
}

func TestEnqueueRequiresGenerationInTransaction(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	m := NewManager(cfg, db, nil, nil)
	ctx := context.Background()

	tx, err := db.SQL().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback()
	if _, err := m.Enqueue(ctx, tx, "missing", `{}`, queue.Options{}); err == nil {
		t.Fatal("expected enqueue without generation to fail")
	}
}
