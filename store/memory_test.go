package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/warden"
)

func testRecord(t *testing.T, name, version string) *warden.PluginRecord {
	t.Helper()
	manifest, err := warden.ParseManifest([]byte(`{"name": "` + name + `", "version": "` + version + `", "main": "source.lua"}`))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	return &warden.PluginRecord{
		Name:     name,
		Version:  version,
		Manifest: manifest,
		Checksum: "blake3:0000000000000000000000000000000000000000000000000000000000000000",
		Status:   warden.StatusValidated,
	}
}

func TestMemoryCatalogCreateGet(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	rec := testRecord(t, "hello", "1.0.0")
	if err := cat.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := cat.Get(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "hello" || got.Version != "1.0.0" {
		t.Errorf("Get() = %s@%s, want hello@1.0.0", got.Name, got.Version)
	}
	if got.Status != warden.StatusValidated {
		t.Errorf("Status = %v, want %v", got.Status, warden.StatusValidated)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set on create")
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on create")
	}
}

func TestMemoryCatalogCloneIsolation(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	if err := cat.Create(ctx, testRecord(t, "hello", "1.0.0")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := cat.Get(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Status = warden.StatusEnabled
	got.AllowedDomains = append(got.AllowedDomains, "evil.example.com")

	again, err := cat.Get(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.Status != warden.StatusValidated {
		t.Errorf("mutating a returned record changed the stored status to %v", again.Status)
	}
	if len(again.AllowedDomains) != 0 {
		t.Errorf("mutating a returned record changed stored domains: %v", again.AllowedDomains)
	}
}

func TestMemoryCatalogCreateDuplicate(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	if err := cat.Create(ctx, testRecord(t, "hello", "1.0.0")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := cat.Create(ctx, testRecord(t, "hello", "1.0.0"))
	if !errors.Is(err, warden.ErrAlreadyInstalled) {
		t.Errorf("Create() duplicate error = %v, want ErrAlreadyInstalled", err)
	}
}

func TestMemoryCatalogDistinctVersions(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	if err := cat.Create(ctx, testRecord(t, "hello", "1.0.0")); err != nil {
		t.Fatalf("Create() v1 error = %v", err)
	}
	if err := cat.Create(ctx, testRecord(t, "hello", "2.0.0")); err != nil {
		t.Errorf("Create() v2 error = %v, want nil (versions are distinct records)", err)
	}
}

func TestMemoryCatalogUpdate(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	rec := testRecord(t, "hello", "1.0.0")
	if err := cat.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec.Status = warden.StatusInstalled
	rec.InstalledBy = "admin"
	if err := cat.Update(ctx, rec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := cat.Get(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != warden.StatusInstalled {
		t.Errorf("Status = %v, want %v", got.Status, warden.StatusInstalled)
	}
	if got.InstalledBy != "admin" {
		t.Errorf("InstalledBy = %q, want %q", got.InstalledBy, "admin")
	}
}

func TestMemoryCatalogUpdateMissing(t *testing.T) {
	cat := NewMemoryCatalog()
	err := cat.Update(context.Background(), testRecord(t, "ghost", "1.0.0"))
	if !errors.Is(err, warden.ErrPluginNotFound) {
		t.Errorf("Update() missing error = %v, want ErrPluginNotFound", err)
	}
}

func TestMemoryCatalogDelete(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	if err := cat.Create(ctx, testRecord(t, "hello", "1.0.0")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := cat.Delete(ctx, "hello@1.0.0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := cat.Get(ctx, "hello@1.0.0"); !errors.Is(err, warden.ErrPluginNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrPluginNotFound", err)
	}
	if err := cat.Delete(ctx, "hello@1.0.0"); !errors.Is(err, warden.ErrPluginNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrPluginNotFound", err)
	}
}

func TestMemoryCatalogList(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := cat.Create(ctx, testRecord(t, name, "1.0.0")); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	list, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(list))
	}

	want := []string{"alpha@1.0.0", "mid@1.0.0", "zeta@1.0.0"}
	for i, rec := range list {
		if rec.ID() != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, rec.ID(), want[i])
		}
	}
}

func TestMemoryKVSetGet(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "hello@1.0.0", "count", "42", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, found, err := kv.Get(ctx, "hello@1.0.0", "count")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if val != "42" {
		t.Errorf("Get() = %q, want %q", val, "42")
	}
}

func TestMemoryKVGetMissing(t *testing.T) {
	kv := NewMemoryKV()
	_, found, err := kv.Get(context.Background(), "hello@1.0.0", "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for missing key")
	}
}

func TestMemoryKVTTL(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "ns", "ephemeral", "x", 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	_, found, err := kv.Get(ctx, "ns", "ephemeral")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found expired key")
	}

	keys, err := kv.Keys(ctx, "ns")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() = %v, want empty after expiry", keys)
	}
}

func TestMemoryKVNamespaceIsolation(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "a@1.0.0", "key", "from-a", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(ctx, "b@1.0.0", "key", "from-b", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, _, err := kv.Get(ctx, "a@1.0.0", "key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "from-a" {
		t.Errorf("namespace a value = %q, want %q", val, "from-a")
	}
}

func TestMemoryKVKeysSorted(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	for _, k := range []string{"charlie", "alpha", "bravo"} {
		if err := kv.Set(ctx, "ns", k, "1", 0); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}

	keys, err := kv.Keys(ctx, "ns")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestMemoryKVClearNamespace(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "doomed@1.0.0", "k1", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(ctx, "doomed@1.0.0", "k2", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(ctx, "doomed@2.0.0", "k1", "survives", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := kv.ClearNamespace(ctx, "doomed@1.0.0"); err != nil {
		t.Fatalf("ClearNamespace() error = %v", err)
	}

	keys, err := kv.Keys(ctx, "doomed@1.0.0")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() after clear = %v, want empty", keys)
	}

	val, found, err := kv.Get(ctx, "doomed@2.0.0", "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || val != "survives" {
		t.Errorf("other version's data = (%q, %v), want (survives, true)", val, found)
	}
}

func TestMemoryKVDelete(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "ns", "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Delete(ctx, "ns", "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ := kv.Get(ctx, "ns", "k"); found {
		t.Error("Get() found deleted key")
	}

	// Deleting a missing key is a no-op.
	if err := kv.Delete(ctx, "ns", "never"); err != nil {
		t.Errorf("Delete() missing key error = %v", err)
	}
}
