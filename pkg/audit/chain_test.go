package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

var testKey = []byte("test-signing-key-0123456789abcdef")

func newTestChain(t *testing.T) (*Chain, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage()
	chain, err := NewChain(context.Background(), storage, testKey)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain, storage
}

func TestRecordFirstEntry(t *testing.T) {
	chain, _ := newTestChain(t)

	entry, err := chain.Record(context.Background(), Event{
		Event: "auth_success", Level: LevelInfo, Message: "admin logged in",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", entry.Sequence)
	}
	if entry.PreviousHash != ZeroHash {
		t.Errorf("first previousHash = %s, want zero sentinel", entry.PreviousHash)
	}
	if entry.ID == "" || entry.Hash == "" || entry.Signature == "" {
		t.Error("entry missing id/hash/signature")
	}
	if !verifySignature(entry.Hash, entry.Signature, testKey) {
		t.Error("stored signature does not verify against hash")
	}
}

func TestChainLinksAndSequence(t *testing.T) {
	chain, storage := newTestChain(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := chain.Record(ctx, Event{Event: "task_submitted", Message: fmt.Sprintf("task %d", i)}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	entries, err := storage.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("stored %d entries, want 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash != entries[i-1].Hash {
			t.Errorf("entry %d previousHash does not match entry %d hash", i+1, i)
		}
		if entries[i].Sequence != entries[i-1].Sequence+1 {
			t.Errorf("sequence gap between %d and %d", entries[i-1].Sequence, entries[i].Sequence)
		}
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	chain, _ := newTestChain(t)
	res, err := chain.Verify(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EntriesChecked != 0 {
		t.Errorf("empty chain verify = %+v, want valid with 0 checked", res)
	}
}

func TestVerifyValidChain(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := chain.Record(ctx, Event{Event: "memory_saved", Message: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := chain.Verify(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("verify failed on untampered chain: %s", res.Error)
	}
	if res.EntriesChecked != 10 {
		t.Errorf("entriesChecked = %d, want 10", res.EntriesChecked)
	}
}

func TestTamperDetection(t *testing.T) {
	chain, storage := newTestChain(t)
	ctx := context.Background()

	for _, msg := range []string{"legit_1", "legit_2", "legit_3"} {
		if _, err := chain.Record(ctx, Event{Event: "test_event", Message: msg}); err != nil {
			t.Fatal(err)
		}
	}

	if !storage.Tamper(2, "TAMPERED") {
		t.Fatal("tamper hook failed")
	}

	res, err := chain.Verify(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("verify passed on tampered chain")
	}
	if res.EntriesChecked != 2 {
		t.Errorf("entriesChecked = %d, want 2 (halt at first bad entry)", res.EntriesChecked)
	}
	if res.FirstInvalidSequence != 2 {
		t.Errorf("firstInvalidSequence = %d, want 2", res.FirstInvalidSequence)
	}
	if !strings.Contains(res.Error, "Signature verification failed") {
		t.Errorf("error = %q, want signature verification failure", res.Error)
	}
}

func TestVerifyRangeSeedsPredecessor(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := chain.Record(ctx, Event{Event: "e", Message: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := chain.Verify(ctx, 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("ranged verify failed: %s", res.Error)
	}
	if res.EntriesChecked != 3 {
		t.Errorf("entriesChecked = %d, want 3", res.EntriesChecked)
	}
}

func TestRestartContinuity(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	first, err := NewChain(ctx, storage, testKey)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := first.Record(ctx, Event{Event: "before_restart", Message: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	// Same storage, fresh process.
	second, err := NewChain(ctx, storage, testKey)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := second.Record(ctx, Event{Event: "after_restart", Message: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := second.Verify(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("verify after restart failed: %s", res.Error)
	}
	if res.EntriesChecked != 7 {
		t.Errorf("entriesChecked = %d, want 7", res.EntriesChecked)
	}
}

type failingStorage struct {
	*MemoryStorage
	fail bool
}

func (s *failingStorage) Append(ctx context.Context, e *Entry) error {
	if s.fail {
		return errors.New("disk on fire")
	}
	return s.MemoryStorage.Append(ctx, e)
}

func TestRecordStorageFailureLeavesChainUnchanged(t *testing.T) {
	storage := &failingStorage{MemoryStorage: NewMemoryStorage()}
	ctx := context.Background()
	chain, err := NewChain(ctx, storage, testKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := chain.Record(ctx, Event{Event: "ok", Message: "first"}); err != nil {
		t.Fatal(err)
	}

	storage.fail = true
	_, err = chain.Record(ctx, Event{Event: "doomed", Message: "second"})
	if err == nil {
		t.Fatal("Record succeeded against failing storage")
	}
	if fault.KindOf(err) != fault.KindStorageUnavailable {
		t.Errorf("kind = %s, want storage_unavailable", fault.KindOf(err))
	}

	storage.fail = false
	entry, err := chain.Record(ctx, Event{Event: "ok", Message: "third"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Sequence != 2 {
		t.Errorf("sequence after failed append = %d, want 2 (no gap)", entry.Sequence)
	}

	res, err := chain.Verify(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EntriesChecked != 2 {
		t.Errorf("verify = %+v, want valid with 2 checked", res)
	}
}

func TestConcurrentRecord(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	const writers = 8
	const perWriter = 25
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := chain.Record(ctx, Event{Event: "concurrent", Message: fmt.Sprintf("w%d-%d", w, i)}); err != nil {
					t.Errorf("Record: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	res, err := chain.Verify(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("verify after concurrent writes failed: %s", res.Error)
	}
	if res.EntriesChecked != writers*perWriter {
		t.Errorf("entriesChecked = %d, want %d", res.EntriesChecked, writers*perWriter)
	}
}

func TestRecordValidation(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	if _, err := chain.Record(ctx, Event{Message: "no event tag"}); fault.KindOf(err) != fault.KindInvalidInput {
		t.Errorf("missing event kind = %v, want invalid_input", fault.KindOf(err))
	}
	if _, err := chain.Record(ctx, Event{Event: "x", Level: Level("loud")}); fault.KindOf(err) != fault.KindInvalidInput {
		t.Errorf("bad level kind = %v, want invalid_input", fault.KindOf(err))
	}
}

func TestRecordDefaultsLevelInfo(t *testing.T) {
	chain, _ := newTestChain(t)
	entry, err := chain.Record(context.Background(), Event{Event: "x", Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Level != LevelInfo {
		t.Errorf("default level = %s, want info", entry.Level)
	}
}

func TestQueryFilter(t *testing.T) {
	storage := NewMemoryStorage()
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	tick := 0
	chain, err := NewChain(context.Background(), storage, testKey, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	events := []Event{
		{Event: "auth_success", Level: LevelInfo, UserID: "admin"},
		{Event: "auth_failure", Level: LevelWarn, UserID: "admin"},
		{Event: "permission_denied", Level: LevelWarn, UserID: "viewer-key"},
		{Event: "auth_failure", Level: LevelWarn, UserID: "admin"},
	}
	for _, ev := range events {
		if _, err := chain.Record(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := storage.Query(ctx, Filter{Event: "auth_failure"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("event filter matched %d, want 2", len(got))
	}

	got, err = storage.Query(ctx, Filter{Level: LevelWarn, UserID: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("level+user filter matched %d, want 2", len(got))
	}

	got, err = storage.Query(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("limit ignored: got %d", len(got))
	}
}

func TestExporterBundle(t *testing.T) {
	chain, storage := newTestChain(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := chain.Record(ctx, Event{Event: "export_me", Message: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	zipBytes, checksum, err := NewExporter(storage).Bundle(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(checksum))
	}

	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.ReadAll(rc); err != nil {
			t.Fatal(err)
		}
		rc.Close()
	}
	for _, want := range []string{"entries.json", "manifest.json", "README.txt"} {
		if !names[want] {
			t.Errorf("bundle missing %s", want)
		}
	}
}
