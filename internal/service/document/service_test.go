package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/PumpeDie/teamup/internal/auth"
	"github.com/PumpeDie/teamup/internal/blob"
	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/remote/memory"
	"github.com/PumpeDie/teamup/internal/service/team"
)

func as(userID string) context.Context {
	return auth.WithUser(context.Background(), userID)
}

// flakyStore fails writes under document paths on demand.
type flakyStore struct {
	*memory.Store
	setErr    error
	deleteErr error
}

func (f *flakyStore) Set(ctx context.Context, path string, value any) error {
	if f.setErr != nil && strings.Contains(path, "/documents/") {
		return f.setErr
	}
	return f.Store.Set(ctx, path, value)
}

func (f *flakyStore) Delete(ctx context.Context, path string) error {
	if f.deleteErr != nil && strings.Contains(path, "/documents/") {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, path)
}

type flakyBlobs struct {
	*blob.Memory
	uploadErr error
	deleteErr error
}

func (f *flakyBlobs) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	return f.Memory.Upload(ctx, key, data, contentType)
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Memory.Delete(ctx, key)
}

type fixture struct {
	svc    Service
	store  *flakyStore
	blobs  *flakyBlobs
	clock  *testclock.Clock
	teamID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	t.Cleanup(mem.Close)
	store := &flakyStore{Store: mem}
	blobs := &flakyBlobs{Memory: blob.NewMemory("http://blobs.local/file-storage")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	teams := team.New(store, directory.New(store), logger)

	created, err := teams.Create(as("U1"), "Alpha")
	if err != nil {
		t.Fatalf("Create team: %v", err)
	}
	if _, err := teams.Join(as("U2"), created.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	clk := testclock.NewClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	return &fixture{
		svc:    New(store, blobs, teams, clk, logger, 1024),
		store:  store,
		blobs:  blobs,
		clock:  clk,
		teamID: created.ID,
	}
}

func TestUploadWritesBlobThenRecord(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Upload(as("U2"), f.teamID, "my notes.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	keys := f.blobs.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], f.teamID+"/") || !strings.HasSuffix(keys[0], "_my_notes.txt") {
		t.Fatalf("unexpected blob keys %v", keys)
	}
	obj, _ := f.blobs.Get(keys[0])
	if !bytes.Equal(obj.Data, []byte("hello")) || !strings.HasPrefix(obj.ContentType, "text/plain") {
		t.Fatalf("unexpected blob %+v", obj)
	}
	if doc.OriginalName != "my notes.txt" || doc.UploadedAt != f.clock.Now().UnixMilli() {
		t.Fatalf("unexpected record %+v", doc)
	}
	if key, err := blob.KeyFromURL(f.teamID, doc.URL); err != nil || key != keys[0] {
		t.Fatalf("url %q does not map back to %q: %v", doc.URL, keys[0], err)
	}
}

func TestUploadRecordFailureOrphansBlob(t *testing.T) {
	f := newFixture(t)
	f.store.setErr = errors.New("metadata store down")

	_, err := f.svc.Upload(as("U1"), f.teamID, "plan.pdf", []byte("%PDF"))
	if !domain.IsCode(err, domain.CodeRemoteFailure) {
		t.Fatalf("expected remote_failure, got %v", err)
	}
	if len(f.blobs.Keys()) != 1 {
		t.Fatalf("blob should stay behind, got %v", f.blobs.Keys())
	}
	docs, err := f.svc.List(as("U1"), f.teamID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("listing should not include the failed upload: %+v", docs)
	}
}

func TestUploadBlobFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.blobs.uploadErr = errors.New("bucket unavailable")
	if _, err := f.svc.Upload(as("U1"), f.teamID, "a.txt", []byte("x")); !domain.IsCode(err, domain.CodeRemoteFailure) {
		t.Fatalf("expected remote_failure, got %v", err)
	}
	if _, err := f.store.Get(context.Background(), documentsPath(f.teamID)); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("no record expected, got %v", err)
	}
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Upload(as("U1"), f.teamID, "big.bin", make([]byte, 1025)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected size error, got %v", err)
	}
	if _, err := f.svc.Upload(as("U1"), f.teamID, "empty.txt", nil); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected empty error, got %v", err)
	}
	if _, err := f.svc.Upload(as("U9"), f.teamID, "a.txt", []byte("x")); !domain.IsCode(err, domain.CodeNotAuthorized) {
		t.Fatalf("expected not_authorized, got %v", err)
	}
	if len(f.blobs.Keys()) != 0 {
		t.Fatalf("rejected uploads must not reach the blob store")
	}
}

func TestDeleteRemovesBlobThenRecord(t *testing.T) {
	f := newFixture(t)
	doc, _ := f.svc.Upload(as("U1"), f.teamID, "a.txt", []byte("x"))

	if err := f.svc.Delete(as("U2"), f.teamID, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.blobs.Keys()) != 0 {
		t.Fatalf("blob not deleted")
	}
	if err := f.svc.Delete(as("U2"), f.teamID, doc.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestDeleteBlobFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	doc, _ := f.svc.Upload(as("U1"), f.teamID, "a.txt", []byte("x"))
	f.blobs.deleteErr = errors.New("bucket unavailable")

	if err := f.svc.Delete(as("U1"), f.teamID, doc.ID); !domain.IsCode(err, domain.CodeRemoteFailure) {
		t.Fatalf("expected remote_failure, got %v", err)
	}
	docs, _ := f.svc.List(as("U1"), f.teamID)
	if len(docs) != 1 || len(f.blobs.Keys()) != 1 {
		t.Fatalf("nothing should be removed: %+v %v", docs, f.blobs.Keys())
	}
}

func TestDeleteRecordFailureAfterBlob(t *testing.T) {
	f := newFixture(t)
	doc, _ := f.svc.Upload(as("U1"), f.teamID, "a.txt", []byte("x"))
	f.store.deleteErr = errors.New("metadata store down")

	if err := f.svc.Delete(as("U1"), f.teamID, doc.ID); !domain.IsCode(err, domain.CodeRemoteFailure) {
		t.Fatalf("expected remote_failure, got %v", err)
	}
	if len(f.blobs.Keys()) != 0 {
		t.Fatalf("blob should be gone")
	}
	docs, _ := f.svc.List(as("U1"), f.teamID)
	if len(docs) != 1 {
		t.Fatalf("record should remain, got %+v", docs)
	}

	// A retry succeeds even though the blob is already missing.
	f.store.deleteErr = nil
	if err := f.svc.Delete(as("U1"), f.teamID, doc.ID); err != nil {
		t.Fatalf("retry Delete: %v", err)
	}
}

func TestWatchOrdersByUploadTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Keys sort opposite to upload time.
	_ = f.store.Set(ctx, documentPath(f.teamID, "a"), domain.Document{URL: "http://x/a", OriginalName: "late", UploadedAt: 20})
	_ = f.store.Set(ctx, documentPath(f.teamID, "b"), domain.Document{URL: "http://x/b", OriginalName: "early", UploadedAt: 10})
	_ = f.store.Set(ctx, documentPath(f.teamID, "c"), map[string]any{"originalName": "no url"})

	wctx, cancel := context.WithCancel(as("U2"))
	defer cancel()
	s, err := f.svc.Watch(wctx, f.teamID)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Stop()
	select {
	case snap := <-s.Changes():
		if len(snap) != 2 || snap[0].OriginalName != "early" || snap[1].ID != "a" {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
}
