package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"uploadq/internal/queue"
	"uploadq/internal/testsupport"
)

func sampleKey(t *testing.T) (queue.CheckpointKey, *queue.FileSource) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mkv")
	testsupport.WriteFile(t, path, 3000)
	src, err := queue.NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	key, ok := queue.KeyFor(src, "http://example.test/upload")
	if !ok {
		t.Fatal("expected file source to be resumable")
	}
	return key, src
}

func TestCheckpointSaveLookupDelete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	key, src := sampleKey(t)

	if cp, err := store.Lookup(ctx, key, 1024); err != nil || cp != nil {
		t.Fatalf("expected empty lookup, got %+v, %v", cp, err)
	}

	err := store.Save(ctx, queue.Checkpoint{
		CheckpointKey: key,
		PartSize:      1024,
		FileID:        "1700000000000-movie.mkv",
		FileName:      src.Name(),
		NextPartIndex: 2,
		PartCount:     3,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := store.Lookup(ctx, key, 1024)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cp == nil || cp.FileID != "1700000000000-movie.mkv" || cp.NextPartIndex != 2 || cp.PartCount != 3 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	if !cp.ModTime.Equal(src.ModTime) {
		t.Fatalf("mod time round trip: got %v want %v", cp.ModTime, src.ModTime)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cp, _ := store.Lookup(ctx, key, 1024); cp != nil {
		t.Fatalf("expected checkpoint removed, got %+v", cp)
	}
}

func TestCheckpointIndexNeverMovesBackwards(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	key, _ := sampleKey(t)

	base := queue.Checkpoint{CheckpointKey: key, PartSize: 1024, FileID: "f-1", FileName: "movie.mkv", PartCount: 3}
	base.NextPartIndex = 2
	if err := store.Save(ctx, base); err != nil {
		t.Fatalf("Save: %v", err)
	}
	base.NextPartIndex = 1
	if err := store.Save(ctx, base); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cp, _ := store.Lookup(ctx, key, 1024)
	if cp.NextPartIndex != 2 {
		t.Fatalf("expected index to stay at 2, got %d", cp.NextPartIndex)
	}

	base.FileID = "f-2"
	base.NextPartIndex = 1
	if err := store.Save(ctx, base); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cp, _ = store.Lookup(ctx, key, 1024)
	if cp.FileID != "f-2" || cp.NextPartIndex != 1 {
		t.Fatalf("new file id should reset index, got %+v", cp)
	}
}

func TestCheckpointPartSizeMismatchDiscards(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	key, _ := sampleKey(t)

	if err := store.Save(ctx, queue.Checkpoint{CheckpointKey: key, PartSize: 1024, FileID: "f", FileName: "m", NextPartIndex: 1, PartCount: 3}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if cp, err := store.Lookup(ctx, key, 2048); err != nil || cp != nil {
		t.Fatalf("expected mismatch to discard checkpoint, got %+v, %v", cp, err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected checkpoint deleted, got %d", len(list))
	}
}

func TestCheckpointListClearAndPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, name := range []string{"a.bin", "b.bin"} {
		key := queue.CheckpointKey{Path: "/data/" + name, Size: 10, ModTime: time.Unix(100, 0), URL: "http://x/upload"}
		if err := store.Save(ctx, queue.Checkpoint{CheckpointKey: key, PartSize: 4, FileID: "id-" + name, FileName: name, NextPartIndex: 1, PartCount: 3}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(list))
	}

	pruned, err := store.PruneOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil || pruned != 0 {
		t.Fatalf("expected nothing pruned, got %d, %v", pruned, err)
	}
	cleared, err := store.Clear(ctx)
	if err != nil || cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d, %v", cleared, err)
	}
}

func TestCheckpointRequiresFileID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := store.Save(context.Background(), queue.Checkpoint{}); err == nil {
		t.Fatal("expected error without file id")
	}
}

func TestOpenDetectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.Close()

	if err := corruptSchemaVersion(cfg.CheckpointDBPath()); err != nil {
		t.Fatalf("corrupt schema: %v", err)
	}
	if _, err := queue.OpenPath(cfg.CheckpointDBPath()); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func corruptSchemaVersion(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("UPDATE schema_version SET version = version + 100")
	return err
}

func TestKeyForRejectsStreams(t *testing.T) {
	src := queue.NewStreamSource("stdin", os.Stdin)
	if _, ok := queue.KeyFor(src, "http://x"); ok {
		t.Fatal("expected stream source to be non-resumable")
	}
}
