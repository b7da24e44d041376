package object_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ocflkit/ocfl/digest"
	"github.com/ocflkit/ocfl/fs/local"
	"github.com/ocflkit/ocfl/object"
)

func newObjFS(t *testing.T) *local.FS {
	t.Helper()
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new local fs: %v", err)
	}
	return fsys
}

func commitOne(t *testing.T, fsys *local.FS, objPath, objID string, files map[string]string, opts ...object.CommitOption) {
	t.Helper()
	ctx := context.Background()
	existing, _ := object.GetObject(ctx, fsys, objPath)
	reg := digest.NewRegistry()
	var u *object.Updater
	if existing != nil {
		u = object.NewUpdater(reg, digest.SHA512, fsys, existing.Inventory)
		u.ClearState()
	} else {
		u = object.NewUpdater(reg, digest.SHA512, fsys, nil)
	}
	for lpath, content := range files {
		srcPath := "src/" + lpath
		if _, err := fsys.Write(ctx, srcPath, strings.NewReader(content)); err != nil {
			t.Fatalf("write src %s: %v", srcPath, err)
		}
		if err := u.AddPath(ctx, lpath, srcPath, object.Options{}); err != nil {
			t.Fatalf("add path %s: %v", lpath, err)
		}
	}
	if err := object.Commit(ctx, fsys, objPath, objID, u, opts...); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGetObjectAfterCommit(t *testing.T) {
	fsys := newObjFS(t)
	commitOne(t, fsys, "obj", "urn:test:obj", map[string]string{"foo.txt": "hello"})

	obj, err := object.GetObject(context.Background(), fsys, "obj")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if obj.Inventory.ID != "urn:test:obj" {
		t.Fatalf("id = %q, want urn:test:obj", obj.Inventory.ID)
	}
	if obj.Inventory.Head.Num() != 1 {
		t.Fatalf("head = %s, want v1", obj.Inventory.Head)
	}
}

func TestExistsReportsObjectPresence(t *testing.T) {
	fsys := newObjFS(t)
	ctx := context.Background()
	ok, err := object.Exists(ctx, fsys, "obj")
	if err != nil {
		t.Fatalf("exists (absent): %v", err)
	}
	if ok {
		t.Fatalf("expected object to not exist yet")
	}
	commitOne(t, fsys, "obj", "urn:test:obj", map[string]string{"foo.txt": "hello"})
	ok, err = object.Exists(ctx, fsys, "obj")
	if err != nil {
		t.Fatalf("exists (present): %v", err)
	}
	if !ok {
		t.Fatalf("expected object to exist after commit")
	}
}

func TestCommitSecondVersionDedupsUnchangedContent(t *testing.T) {
	fsys := newObjFS(t)
	ctx := context.Background()
	commitOne(t, fsys, "obj", "urn:test:obj", map[string]string{"foo.txt": "hello"})
	commitOne(t, fsys, "obj", "urn:test:obj", map[string]string{"foo.txt": "hello", "bar.txt": "world"})

	obj, err := object.GetObject(ctx, fsys, "obj")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if obj.Inventory.Head.Num() != 2 {
		t.Fatalf("head = %s, want v2", obj.Inventory.Head)
	}
	// foo.txt's digest should only ever be stored once in the manifest even
	// though it appears in both versions.
	dig := obj.Inventory.GetVersion(obj.Inventory.Head).State.GetDigest("foo.txt")
	if len(obj.Inventory.Manifest.DigestPaths(dig)) != 1 {
		t.Fatalf("expected foo.txt's content to be stored exactly once, got %v",
			obj.Inventory.Manifest.DigestPaths(dig))
	}
}

func TestCommitRejectsUnchangedState(t *testing.T) {
	fsys := newObjFS(t)
	ctx := context.Background()
	commitOne(t, fsys, "obj", "urn:test:obj", map[string]string{"foo.txt": "hello"})

	reg := digest.NewRegistry()
	existing, err := object.GetObject(ctx, fsys, "obj")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	u := object.NewUpdater(reg, digest.SHA512, fsys, existing.Inventory)
	if err := object.Commit(ctx, fsys, "obj", "urn:test:obj", u); err == nil {
		t.Fatalf("expected commit with identical state to fail")
	}
}
