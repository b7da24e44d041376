package cache_test

import (
	"context"
	"testing"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/cache"
)

func TestMemUpsertAndRetrieve(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMem(10)

	row := cache.Details{ObjectID: "obj-1", VersionNum: 1, ObjectRootPath: "obj-1", InventoryDigest: "d1", DigestAlgorithm: "sha512"}
	if err := m.Upsert(ctx, row, cache.CheckNextVersion(row)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := m.Retrieve(ctx, "obj-1")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got == nil || got.VersionNum != 1 {
		t.Fatalf("got %+v, want version 1", got)
	}
}

func TestCheckNextVersionRejectsSkippedVersion(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMem(10)
	v1 := cache.Details{ObjectID: "obj-2", VersionNum: 1, ObjectRootPath: "obj-2", InventoryDigest: "d1", DigestAlgorithm: "sha512"}
	if err := m.Upsert(ctx, v1, cache.CheckNextVersion(v1)); err != nil {
		t.Fatalf("upsert v1: %v", err)
	}
	v3 := cache.Details{ObjectID: "obj-2", VersionNum: 3, ObjectRootPath: "obj-2", InventoryDigest: "d3", DigestAlgorithm: "sha512"}
	err := m.Upsert(ctx, v3, cache.CheckNextVersion(v3))
	if !ocfl.Is(err, ocfl.KindOutOfSync) {
		t.Fatalf("expected KindOutOfSync skipping v2, got %v", err)
	}
}

func TestCheckNextVersionAllowsMutableHeadRevisions(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMem(10)
	v1 := cache.Details{ObjectID: "obj-3", VersionNum: 1, ObjectRootPath: "obj-3", InventoryDigest: "d1", DigestAlgorithm: "sha512"}
	if err := m.Upsert(ctx, v1, cache.CheckNextVersion(v1)); err != nil {
		t.Fatalf("upsert v1: %v", err)
	}
	r1 := cache.Details{ObjectID: "obj-3", VersionNum: 1, RevisionNum: 1, ObjectRootPath: "obj-3", InventoryDigest: "r1", DigestAlgorithm: "sha512"}
	if err := m.Upsert(ctx, r1, cache.CheckNextVersion(r1)); err != nil {
		t.Fatalf("upsert first revision: %v", err)
	}
	r2 := cache.Details{ObjectID: "obj-3", VersionNum: 1, RevisionNum: 2, ObjectRootPath: "obj-3", InventoryDigest: "r2", DigestAlgorithm: "sha512"}
	if err := m.Upsert(ctx, r2, cache.CheckNextVersion(r2)); err != nil {
		t.Fatalf("upsert second revision: %v", err)
	}
}

func TestMemEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMem(2)
	for _, id := range []string{"a", "b", "c"} {
		row := cache.Details{ObjectID: id, VersionNum: 1, ObjectRootPath: id, InventoryDigest: id, DigestAlgorithm: "sha512"}
		if err := m.Upsert(ctx, row, nil); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if got, _ := m.Retrieve(ctx, "a"); got != nil {
		t.Fatalf("expected a to be evicted, got %+v", got)
	}
	if got, _ := m.Retrieve(ctx, "c"); got == nil {
		t.Fatalf("expected c to still be cached")
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMem(10)
	row := cache.Details{ObjectID: "obj-4", VersionNum: 1, ObjectRootPath: "obj-4", InventoryDigest: "d1", DigestAlgorithm: "sha512"}
	if err := m.Upsert(ctx, row, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.Delete(ctx, "obj-4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := m.Retrieve(ctx, "obj-4"); got != nil {
		t.Fatalf("expected obj-4 to be gone after delete")
	}

	for _, id := range []string{"x", "y"} {
		row := cache.Details{ObjectID: id, VersionNum: 1, ObjectRootPath: id, InventoryDigest: id, DigestAlgorithm: "sha512"}
		if err := m.Upsert(ctx, row, nil); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := m.Retrieve(ctx, "x"); got != nil {
		t.Fatalf("expected cache to be empty after clear")
	}
}
