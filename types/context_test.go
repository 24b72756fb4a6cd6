package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithRunID(ctx, "run")
	if got, ok := RunID(ctx); !ok || got != "run" {
		t.Fatalf("RunID mismatch: %v %v", got, ok)
	}

	ctx = WithWorkflowID(ctx, "story-mapping-workflow")
	if got, ok := WorkflowID(ctx); !ok || got != "story-mapping-workflow" {
		t.Fatalf("WorkflowID mismatch: %v %v", got, ok)
	}

	ctx = WithStepID(ctx, "frame-problem")
	if got, ok := StepID(ctx); !ok || got != "frame-problem" {
		t.Fatalf("StepID mismatch: %v %v", got, ok)
	}

	ctx = WithSessionID(ctx, "s-1")
	if got, ok := SessionID(ctx); !ok || got != "s-1" {
		t.Fatalf("SessionID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_EmptyValues(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(context.Background(), "")
	if _, ok := RunID(ctx); ok {
		t.Fatal("empty run id should not be reported")
	}
	if _, ok := SessionID(context.Background()); ok {
		t.Fatal("missing session id should not be reported")
	}
}
