package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

func TestFileStoreSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	snap := Snapshot{
		RunID:    "run-1",
		Phase:    models.PhaseBuilding,
		Progress: 42,
		Hardware: models.HardwareInfo{CPUCores: 8, RAMGB: 16},
	}
	ctx := context.Background()
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Phase != models.PhaseBuilding || got.Progress != 42 {
		t.Errorf("got %+v", got)
	}
	if got.Digest == "" {
		t.Error("expected digest to be populated on save")
	}
}

func TestFileStoreLoadDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	snap := Snapshot{RunID: "run-2", Phase: models.PhaseValidation, Progress: 90}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "run-2.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := []byte(replaceOnce(string(data), `"progress": 90`, `"progress": 100`))
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatalf("write tampered: %v", err)
	}

	if _, err := store.Load(ctx, "run-2"); err == nil {
		t.Fatal("expected integrity check to reject tampered checkpoint")
	}
}

func TestFileStoreListReturnsAllRunIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.Save(ctx, Snapshot{RunID: id}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	for _, want := range []string{"run-a", "run-b", "run-c"} {
		if !found[want] {
			t.Errorf("expected %s in list, got %v", want, ids)
		}
	}
}

func TestFromStateCopiesLiveOrchestrationState(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming
	st := models.NewOrchestrationState("run-9", models.HardwareInfo{CPUCores: 4, RAMGB: 8}, cfg)
	st.Progress = 55
	st.PatchesApplied = 3
	st.PatchesFailed = 1
	st.Error = "transient"

	snap := FromState(st)
	if snap.RunID != "run-9" || snap.Progress != 55 || snap.PatchOK != 3 || snap.PatchFail != 1 {
		t.Errorf("got %+v", snap)
	}
	if snap.LastError != "transient" {
		t.Errorf("LastError = %q", snap.LastError)
	}
	if snap.Config.Profile != models.ProfileGaming {
		t.Errorf("Config.Profile = %q", snap.Config.Profile)
	}
}

func TestFromStateNilConfigYieldsZeroValue(t *testing.T) {
	st := models.NewOrchestrationState("run-10", models.HardwareInfo{CPUCores: 4, RAMGB: 8}, nil)
	snap := FromState(st)
	if snap.Config.Profile != "" {
		t.Errorf("expected zero-value config, got %+v", snap.Config)
	}
}

func replaceOnce(s, old, new string) string {
	idx := indexOf(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
