package generation_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"atelier/internal/generation"
	"atelier/internal/services"
	"atelier/internal/testsupport"
)

type recordingRemover struct {
	paths []string
	err   error
}

func (r *recordingRemover) Delete(_ context.Context, path string) error {
	r.paths = append(r.paths, path)
	return r.err
}

func newStore(t *testing.T) (*generation.Store, *recordingRemover) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	remover := &recordingRemover{}
	return generation.NewStore(db.SQL(), remover), remover
}

func mustCreate(t *testing.T, s *generation.Store, params generation.CreateParams) *generation.Record {
	t.Helper()
	if params.PromptJSON == "" {
		params.PromptJSON = `{"subject":"cat"}`
	}
	rec, err := s.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func complete(t *testing.T, s *generation.Store, id, path string) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpdateStatus(ctx, id, generation.StatusGenerating, ""); err != nil {
		t.Fatalf("UpdateStatus generating: %v", err)
	}
	if err := s.MarkCompleted(ctx, id, path); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	rec := mustCreate(t, s, generation.CreateParams{
		ReferencePhotoIDs:    []string{"ref-1"},
		ComponentsUsed:       []string{"style-a", "style-b"},
		InlineReferencePaths: []string{"uploads/a.png"},
	})
	if rec.Status != generation.StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if rec.ImagePath != "" || rec.ErrorMessage != "" || rec.ParentID != "" {
		t.Fatalf("unexpected optional fields on new record: %+v", rec)
	}

	fetched, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil || len(fetched.ComponentsUsed) != 2 || fetched.ReferencePhotoIDs[0] != "ref-1" {
		t.Fatalf("unexpected fetched record: %+v", fetched)
	}

	missing, err := s.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %+v err=%v", missing, err)
	}
}

func TestCreateRequiresPrompt(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Create(context.Background(), generation.CreateParams{PromptJSON: "  "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusTransitionsAreGuarded(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, generation.CreateParams{})

	if err := s.MarkCompleted(ctx, rec.ID, "a.png"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("pending record must not complete directly, got %v", err)
	}
	complete(t, s, rec.ID, "a.png")

	if err := s.UpdateStatus(ctx, rec.ID, generation.StatusFailed, "late failure"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("completed record must stay completed, got %v", err)
	}
	if err := s.UpdateStatus(ctx, rec.ID, generation.StatusCompleted, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("completed is not a direct target, got %v", err)
	}
	if err := s.UpdateStatus(ctx, "missing", generation.StatusGenerating, ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	fetched, _ := s.GetByID(ctx, rec.ID)
	if fetched.Status != generation.StatusCompleted || fetched.ImagePath != "a.png" {
		t.Fatalf("unexpected final record: %+v", fetched)
	}
}

func TestFailedRecordKeepsMessage(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, generation.CreateParams{})
	if err := s.UpdateStatus(ctx, rec.ID, generation.StatusGenerating, "ignored"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := s.UpdateStatus(ctx, rec.ID, generation.StatusFailed, "provider refused"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	fetched, _ := s.GetByID(ctx, rec.ID)
	if fetched.Status != generation.StatusFailed || fetched.ErrorMessage != "provider refused" || fetched.ImagePath != "" {
		t.Fatalf("unexpected failed record: %+v", fetched)
	}
}

func TestLineageWalksToRoot(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	root := mustCreate(t, s, generation.CreateParams{})
	child := mustCreate(t, s, generation.CreateParams{ParentID: root.ID, EditInstructions: "add hat"})
	grandchild := mustCreate(t, s, generation.CreateParams{ParentID: child.ID, EditInstructions: "make it red"})

	chain, err := s.Lineage(ctx, grandchild.ID)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(chain) != 3 || chain[0].ID != grandchild.ID || chain[1].ID != child.ID || chain[2].ID != root.ID {
		t.Fatalf("unexpected lineage order: %+v", chain)
	}

	capped, err := s.WithLineageDepth(1).Lineage(ctx, grandchild.ID)
	if err != nil {
		t.Fatalf("capped Lineage: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected depth cap to return 2 records, got %d", len(capped))
	}

	if _, err := s.Lineage(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyReplacementReturnsPreviousImage(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, generation.CreateParams{})
	complete(t, s, rec.ID, "old.png")

	previous, err := s.ApplyReplacement(ctx, rec.ID, "new.png", `{"subject":"dog"}`, "swap animal")
	if err != nil {
		t.Fatalf("ApplyReplacement: %v", err)
	}
	if previous != "old.png" {
		t.Fatalf("expected previous image old.png, got %q", previous)
	}
	fetched, _ := s.GetByID(ctx, rec.ID)
	if fetched.ImagePath != "new.png" || fetched.PromptJSON != `{"subject":"dog"}` || fetched.EditInstructions != "swap animal" {
		t.Fatalf("replacement not applied: %+v", fetched)
	}

	pending := mustCreate(t, s, generation.CreateParams{})
	if _, err := s.ApplyReplacement(ctx, pending.ID, "x.png", `{}`, ""); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for non-completed record, got %v", err)
	}
}

func TestToggleFlagsAndList(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, generation.CreateParams{})
	b := mustCreate(t, s, generation.CreateParams{})
	mustCreate(t, s, generation.CreateParams{Hidden: true})

	fav, err := s.ToggleFavorite(ctx, a.ID)
	if err != nil || !fav {
		t.Fatalf("expected favourite on, got %v err=%v", fav, err)
	}
	if fav, _ := s.ToggleFavorite(ctx, b.ID); !fav {
		t.Fatal("expected favourite on for b")
	}
	if fav, _ := s.ToggleFavorite(ctx, b.ID); fav {
		t.Fatal("expected favourite off after second toggle")
	}
	if _, err := s.ToggleHidden(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	visible, err := s.List(ctx, generation.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("expected hidden record excluded, got %d records", len(visible))
	}
	all, _ := s.List(ctx, generation.ListFilter{IncludeHidden: true})
	if len(all) != 3 {
		t.Fatalf("expected 3 records with hidden, got %d", len(all))
	}
	favourites, _ := s.List(ctx, generation.ListFilter{FavoritesOnly: true})
	if len(favourites) != 1 || favourites[0].ID != a.ID {
		t.Fatalf("unexpected favourites: %+v", favourites)
	}
	page, _ := s.List(ctx, generation.ListFilter{IncludeHidden: true, Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Fatalf("expected single record page, got %d", len(page))
	}
}

func TestDeleteRemovesImageAndOrphansChildren(t *testing.T) {
	s, remover := newStore(t)
	ctx := context.Background()
	parent := mustCreate(t, s, generation.CreateParams{})
	complete(t, s, parent.ID, "parent.png")
	child := mustCreate(t, s, generation.CreateParams{ParentID: parent.ID})

	deleted, err := s.Delete(ctx, parent.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v err=%v", deleted, err)
	}
	if len(remover.paths) != 1 || remover.paths[0] != "parent.png" {
		t.Fatalf("expected image removal, got %v", remover.paths)
	}
	fetched, _ := s.GetByID(ctx, child.ID)
	if fetched == nil || fetched.ParentID != "" {
		t.Fatalf("expected child to survive with cleared parent, got %+v", fetched)
	}

	deleted, err = s.Delete(ctx, parent.ID)
	if err != nil || deleted {
		t.Fatalf("expected no-op second delete, got %v err=%v", deleted, err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	s := generation.NewStore(db.SQL(), nil)
	ctx := context.Background()

	var createdID string
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		rec, err := s.WithTx(tx).Create(ctx, generation.CreateParams{PromptJSON: `{}`})
		if err != nil {
			return err
		}
		createdID = rec.ID
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort error")
	}
	if rec, _ := s.GetByID(ctx, createdID); rec != nil {
		t.Fatalf("expected rollback, found %+v", rec)
	}
}
