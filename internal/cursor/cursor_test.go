package cursor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

type memBackend struct {
	mu      sync.Mutex
	cursors map[cursorKey]domain.Cursor
	files   map[string]map[string]struct{}
	floors  map[string]string
	saveErr error
	saves   int
}

func newMemBackend() *memBackend {
	return &memBackend{
		cursors: make(map[cursorKey]domain.Cursor),
		files:   make(map[string]map[string]struct{}),
		floors:  make(map[string]string),
	}
}

func (m *memBackend) LoadCursor(_ context.Context, serverID string, source domain.SourceType) (domain.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[cursorKey{serverID, source}], nil
}

func (m *memBackend) SaveCursor(_ context.Context, c domain.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.cursors[cursorKey{c.ServerID, c.Source}] = c
	return nil
}

func (m *memBackend) LoadProcessedFiles(_ context.Context, serverID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for f := range m.files[serverID] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memBackend) LoadProcessedFloor(_ context.Context, serverID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.floors[serverID], nil
}

func (m *memBackend) AddProcessedFile(_ context.Context, serverID, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[serverID] == nil {
		m.files[serverID] = make(map[string]struct{})
	}
	m.files[serverID][filename] = struct{}{}
	return nil
}

func (m *memBackend) KeepProcessedFiles(_ context.Context, serverID string, keep []string, floor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if floor > m.floors[serverID] {
		m.floors[serverID] = floor
	}
	set := make(map[string]struct{}, len(keep))
	for _, f := range keep {
		set[f] = struct{}{}
	}
	m.files[serverID] = set
	return nil
}

func TestOffsetDefaultsToZero(t *testing.T) {
	store := New(newMemBackend())
	off, err := store.Offset(context.Background(), "srv", domain.SourceServerLog)
	if err != nil {
		t.Fatalf("Offset: %v", err)
	}
	if off != 0 {
		t.Errorf("Offset = %d, want 0", off)
	}
}

func TestCommitOffsetIsMonotonic(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 10); err != nil {
		t.Fatalf("CommitOffset: %v", err)
	}
	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 5); err == nil {
		t.Error("expected error committing a smaller offset")
	}
	if off, _ := store.Offset(ctx, "srv", domain.SourceServerLog); off != 10 {
		t.Errorf("Offset = %d, want 10", off)
	}

	// Persisted state survives a fresh store
	reloaded := New(backend)
	if off, _ := reloaded.Offset(ctx, "srv", domain.SourceServerLog); off != 10 {
		t.Errorf("reloaded Offset = %d, want 10", off)
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	store := New(newMemBackend())
	ctx := context.Background()

	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 12); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitFileOffset(ctx, "srv", domain.SourceDeathLog, "kill_1.log", 3); err != nil {
		t.Fatal(err)
	}
	if off, _ := store.Offset(ctx, "srv", domain.SourceDeathLog); off != 3 {
		t.Errorf("deathlog offset = %d, want 3", off)
	}
	if off, _ := store.Offset(ctx, "other", domain.SourceServerLog); off != 0 {
		t.Errorf("other server offset = %d, want 0", off)
	}
}

func TestDetectRotationAndReset(t *testing.T) {
	store := New(newMemBackend())
	ctx := context.Background()

	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 100); err != nil {
		t.Fatal(err)
	}
	rotated, err := store.DetectRotation(ctx, "srv", domain.SourceServerLog, 50)
	if err != nil {
		t.Fatalf("DetectRotation: %v", err)
	}
	if !rotated {
		t.Error("expected rotation for size 50 < offset 100")
	}
	if rotated, _ := store.DetectRotation(ctx, "srv", domain.SourceServerLog, 100); rotated {
		t.Error("unchanged size should not be a rotation")
	}

	if err := store.ResetOffset(ctx, "srv", domain.SourceServerLog); err != nil {
		t.Fatalf("ResetOffset: %v", err)
	}
	if off, _ := store.Offset(ctx, "srv", domain.SourceServerLog); off != 0 {
		t.Errorf("Offset after reset = %d, want 0", off)
	}
	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 4); err != nil {
		t.Errorf("commit after reset: %v", err)
	}
}

func TestCommitFileOffsetSwitchesFiles(t *testing.T) {
	store := New(newMemBackend())
	ctx := context.Background()

	if err := store.CommitFileOffset(ctx, "srv", domain.SourceDeathLog, "kill_1.log", 40); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitFileOffset(ctx, "srv", domain.SourceDeathLog, "kill_2.log", 2); err != nil {
		t.Fatalf("switching file: %v", err)
	}
	c, _ := store.Cursor(ctx, "srv", domain.SourceDeathLog)
	if c.File != "kill_2.log" || c.Offset != 2 {
		t.Errorf("cursor = %+v", c)
	}
	if err := store.CommitFileOffset(ctx, "srv", domain.SourceDeathLog, "kill_2.log", 1); err == nil {
		t.Error("expected error moving backwards within a file")
	}
}

func TestFailedCommitKeepsPreviousState(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 3); err != nil {
		t.Fatal(err)
	}
	backend.saveErr = errors.New("disk full")
	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 9); err == nil {
		t.Fatal("expected error")
	}
	if off, _ := store.Offset(ctx, "srv", domain.SourceServerLog); off != 3 {
		t.Errorf("Offset = %d, want 3 after failed commit", off)
	}
}

func TestLastProcessedOnlyAdvances(t *testing.T) {
	store := New(newMemBackend())
	ctx := context.Background()

	t1 := time.Date(2025, 4, 10, 0, 5, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)

	if ts, _ := store.LastProcessed(ctx, "srv"); !ts.IsZero() {
		t.Errorf("initial LastProcessed = %v, want zero", ts)
	}
	if err := store.AdvanceLastProcessed(ctx, "srv", t1); err != nil {
		t.Fatal(err)
	}
	if err := store.AdvanceLastProcessed(ctx, "srv", t0); err != nil {
		t.Fatal(err)
	}
	if ts, _ := store.LastProcessed(ctx, "srv"); !ts.Equal(t1) {
		t.Errorf("LastProcessed = %v, want %v", ts, t1)
	}
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.MarkProcessed(ctx, "srv", "kill_1.log"); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}
	ok, err := store.IsProcessed(ctx, "srv", "kill_1.log")
	if err != nil || !ok {
		t.Errorf("IsProcessed = %v, %v", ok, err)
	}
	if ok, _ := store.IsProcessed(ctx, "other", "kill_1.log"); ok {
		t.Error("registry leaked across servers")
	}
	files, _ := store.ProcessedFiles(ctx, "srv")
	if len(files) != 1 {
		t.Errorf("files = %v", files)
	}
}

func TestMarkProcessedPrunesAtThreshold(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	name := func(i int) string { return fmt.Sprintf("kill_2025041%03d.log", i) }
	for i := 0; i < MaxProcessedFiles; i++ {
		if err := store.MarkProcessed(ctx, "srv", name(i)); err != nil {
			t.Fatal(err)
		}
	}
	files, _ := store.ProcessedFiles(ctx, "srv")
	if len(files) != MaxProcessedFiles {
		t.Fatalf("len = %d before threshold, want %d", len(files), MaxProcessedFiles)
	}

	// 101st entry triggers the prune
	if err := store.MarkProcessed(ctx, "srv", name(MaxProcessedFiles)); err != nil {
		t.Fatal(err)
	}
	files, _ = store.ProcessedFiles(ctx, "srv")
	if len(files) != KeepProcessedFiles {
		t.Fatalf("len = %d after prune, want %d", len(files), KeepProcessedFiles)
	}
	if files[0] != name(MaxProcessedFiles-KeepProcessedFiles+1) || files[len(files)-1] != name(MaxProcessedFiles) {
		t.Errorf("kept range = %s..%s", files[0], files[len(files)-1])
	}

	persisted, _ := backend.LoadProcessedFiles(ctx, "srv")
	if len(persisted) != KeepProcessedFiles {
		t.Errorf("persisted len = %d, want %d", len(persisted), KeepProcessedFiles)
	}
	if floor, _ := backend.LoadProcessedFloor(ctx, "srv"); floor != name(MaxProcessedFiles-KeepProcessedFiles) {
		t.Errorf("floor = %q, want newest pruned name %q", floor, name(MaxProcessedFiles-KeepProcessedFiles))
	}
}

func TestPrunedFilesStayProcessed(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	name := func(i int) string { return fmt.Sprintf("kill_2025041%03d.log", i) }
	for i := 0; i <= MaxProcessedFiles; i++ {
		if err := store.MarkProcessed(ctx, "srv", name(i)); err != nil {
			t.Fatal(err)
		}
	}

	// A fresh store sees the persisted floor
	reloaded := New(backend)
	for _, s := range []*Store{store, reloaded} {
		for _, i := range []int{0, MaxProcessedFiles - KeepProcessedFiles, MaxProcessedFiles} {
			if ok, err := s.IsProcessed(ctx, "srv", name(i)); err != nil || !ok {
				t.Errorf("IsProcessed(%s) = %v, %v, want true", name(i), ok, err)
			}
		}
		if ok, _ := s.IsProcessed(ctx, "srv", name(MaxProcessedFiles+1)); ok {
			t.Errorf("unseen file %s reported processed", name(MaxProcessedFiles+1))
		}
	}

	// Marking a name under the floor does not re-grow the registry
	if err := reloaded.MarkProcessed(ctx, "srv", name(3)); err != nil {
		t.Fatal(err)
	}
	files, _ := reloaded.ProcessedFiles(ctx, "srv")
	if len(files) != KeepProcessedFiles {
		t.Errorf("registry len = %d, want %d", len(files), KeepProcessedFiles)
	}
}

func TestForgetDropsCache(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	if err := store.CommitOffset(ctx, "srv", domain.SourceServerLog, 8); err != nil {
		t.Fatal(err)
	}
	delete(backend.cursors, cursorKey{"srv", domain.SourceServerLog})
	store.Forget("srv")
	if off, _ := store.Offset(ctx, "srv", domain.SourceServerLog); off != 0 {
		t.Errorf("Offset after Forget = %d, want 0", off)
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.AdvanceLastProcessed(ctx, "srv", time.Unix(int64(i), 0))
		}()
	}
	wg.Wait()

	ts, _ := store.LastProcessed(ctx, "srv")
	if !ts.Equal(time.Unix(50, 0)) {
		t.Errorf("LastProcessed = %v, want %v", ts, time.Unix(50, 0))
	}
	if backend.saves != 50 {
		t.Errorf("saves = %d, want 50", backend.saves)
	}
}
