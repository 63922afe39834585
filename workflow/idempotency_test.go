package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/workflow"
)

func TestHandleOnce_RunsOncePerMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}

	skipped, err := workflow.HandleOnce(ctx, db, "org-1", "audit", "m-1", fn)
	if err != nil || skipped {
		t.Fatalf("first delivery: skipped=%v err=%v", skipped, err)
	}
	skipped, err = workflow.HandleOnce(ctx, db, "org-1", "audit", "m-1", fn)
	if err != nil || !skipped {
		t.Fatalf("redelivery: skipped=%v err=%v", skipped, err)
	}
	// a different handler or org is a different key
	if _, err := workflow.HandleOnce(ctx, db, "org-1", "billing", "m-1", fn); err != nil {
		t.Fatalf("other handler: %v", err)
	}
	if _, err := workflow.HandleOnce(ctx, db, "org-2", "audit", "m-1", fn); err != nil {
		t.Fatalf("other org: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestHandleOnce_RetriesAfterFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	if _, err := workflow.HandleOnce(ctx, db, "org-1", "audit", "m-1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	var key models.IdempotencyKey
	if err := db.Where("message_id = ?", "m-1").First(&key).Error; err != nil {
		t.Fatalf("load key: %v", err)
	}
	if key.Status != models.IdempotencyStatusFailed || key.LastError == nil || *key.LastError != "boom" {
		t.Fatalf("expected FAILED key, got %+v", key)
	}

	ran := false
	skipped, err := workflow.HandleOnce(ctx, db, "org-1", "audit", "m-1", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || skipped || !ran {
		t.Fatalf("expected failed message to run again, skipped=%v ran=%v err=%v", skipped, ran, err)
	}
	if err := db.Where("message_id = ?", "m-1").First(&key).Error; err != nil {
		t.Fatalf("load key: %v", err)
	}
	if key.Status != models.IdempotencyStatusSucceeded || key.LastError != nil {
		t.Fatalf("expected SUCCEEDED key, got %+v", key)
	}
}

func TestBeginIdempotency_InProgress(t *testing.T) {
	db := openTestDB(t)
	if skip, err := workflow.BeginIdempotency(db, "org-1", "audit", "m-1"); err != nil || skip {
		t.Fatalf("first begin: skip=%v err=%v", skip, err)
	}
	if _, err := workflow.BeginIdempotency(db, "org-1", "audit", "m-1"); !errors.Is(err, workflow.ErrIdempotencyInProgress) {
		t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
	}
}

func TestLifecycleConsumer(t *testing.T) {
	db := openTestDB(t)
	consumer := workflow.NewLifecycleConsumer(db, quietLogger())
	ctx := context.Background()

	invalid := []config.LifecycleMessage{
		{OrgId: "org-1", EventType: "invoice.paid"},
		{EventId: "e-1", EventType: "invoice.paid"},
		{EventId: "e-1", OrgId: "org-1"},
	}
	for _, msg := range invalid {
		if _, err := consumer.Consume(ctx, msg); !errors.Is(err, workflow.ErrInvalidLifecycleMessage) {
			t.Fatalf("expected %+v to be rejected, got %v", msg, err)
		}
	}

	msg := config.LifecycleMessage{EventId: "e-1", OrgId: "org-1", EventType: "invoice.paid", AggregateType: "invoice"}
	if skipped, err := consumer.Consume(ctx, msg); err != nil || skipped {
		t.Fatalf("first consume: skipped=%v err=%v", skipped, err)
	}
	if skipped, err := consumer.Consume(ctx, msg); err != nil || !skipped {
		t.Fatalf("redelivered consume: skipped=%v err=%v", skipped, err)
	}
}
