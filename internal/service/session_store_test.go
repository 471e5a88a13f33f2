package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timmy/fitfinder/internal/categorize"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/repository"
	"github.com/timmy/fitfinder/internal/storage"
	"github.com/timmy/fitfinder/internal/vision"
)

// TestOrchestrator_SQLiteStore runs a full session against the gorm store.
func TestOrchestrator_SQLiteStore(t *testing.T) {
	db := newServiceDB(t)
	sessions := repository.NewSessionRepository(db)
	products := repository.NewProductRepository(db)
	if err := products.Upsert(context.Background(), &domain.Product{ID: "id-1", ProductCode: "P1", Name: "Pleated Skirt"}); err != nil {
		t.Fatal(err)
	}

	detector := &fakeDetector{regions: []vision.Region{
		{Box: box(0, 0, 16, 16), Label: "shirt", Confidence: 0.6},
		{Box: box(0, 16, 16, 16), Label: "skirt", Confidence: 0.9},
	}}
	searcher := &fakeSearcher{matches: []vision.Match{{ProductID: "P1", Score: 0.75}, {ProductID: "P2", Score: 0.5}}}
	objects := storage.NewMemoryStorage("fitfinder", "")
	orch := NewOrchestrator(sessions, objects, detector, searcher, categorize.Default(), products,
		OrchestratorConfig{SessionTTL: time.Hour})
	ctx := context.Background()

	v, err := orch.Begin(ctx, "sess-int", Upload{Data: testPNG(t, 32, 32)})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if v.Stage != domain.StageAwaitingSelection || len(v.Detections) != 2 {
		t.Fatalf("view = %+v", v)
	}

	v, err = orch.Select(ctx, "sess-int", Selection{Category: domain.CategoryBottom})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(v.Results) != 2 || v.Results[0].ProductID != "P1" || v.Results[0].Name != "Pleated Skirt" {
		t.Fatalf("results = %+v", v.Results)
	}

	status, err := orch.Status(ctx, "sess-int")
	if err != nil {
		t.Fatal(err)
	}
	if status.Stage != domain.StageCompleted || len(status.Results) != 2 || status.Selection.Category != domain.CategoryBottom {
		t.Errorf("status = %+v", status)
	}

	history, err := sessions.Transitions(ctx, "sess-int")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 6 || history[len(history)-1].To != domain.StageCompleted {
		t.Errorf("history = %+v", history)
	}

	if err := orch.Reset(ctx, "sess-int"); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Status(ctx, "sess-int"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("after reset: %v", err)
	}
	if len(objects.Keys()) != 0 {
		t.Errorf("keys = %v", objects.Keys())
	}
}
