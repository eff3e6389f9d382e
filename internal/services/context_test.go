package services_test

import (
	"context"
	"testing"

	"audibridge/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithASIN(ctx, "B072LK1GSN")
	ctx = services.WithStage(ctx, "transcoding")
	ctx = services.WithAccount(ctx, "SERIAL")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if asin, ok := services.ASINFromContext(ctx); !ok || asin != "B072LK1GSN" {
		t.Fatalf("unexpected asin: %v %v", asin, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "transcoding" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if account, ok := services.AccountFromContext(ctx); !ok || account != "SERIAL" {
		t.Fatalf("unexpected account: %v %v", account, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
