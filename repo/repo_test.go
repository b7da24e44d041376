package repo_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ocflkit/ocfl"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/fs/local"
	"github.com/ocflkit/ocfl/object"
	"github.com/ocflkit/ocfl/repo"
)

func newTestRepo(t *testing.T) (*repo.Repository, ocflfs.WriteFS) {
	t.Helper()
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new local fs: %v", err)
	}
	r, err := repo.Init(context.Background(), fsys, "root", nil, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return r, fsys
}

func writeSrc(t *testing.T, fsys ocflfs.WriteFS, name, content string) {
	t.Helper()
	if _, err := fsys.Write(context.Background(), name, strings.NewReader(content)); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPutAndGetObject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "a/foo.txt", "hello")
	writeSrc(t, src, "a/bar.txt", "world")

	vi := repo.VersionInfo{Message: "first", Created: time.Now()}
	if err := r.PutObject(ctx, "obj-1", src, "a", vi); err != nil {
		t.Fatalf("put object: %v", err)
	}

	dst, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new dst fs: %v", err)
	}
	if err := r.GetObject(ctx, "obj-1", ocfl.Head, dst, "out"); err != nil {
		t.Fatalf("get object: %v", err)
	}
	got, err := ocflfs.ReadAll(ctx, dst, "out/foo.txt")
	if err != nil {
		t.Fatalf("read foo.txt: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("foo.txt = %q, want hello", got)
	}
}

func TestUpdateObjectCreatesSecondVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v1 content")

	vi := repo.VersionInfo{Message: "v1"}
	if err := r.PutObject(ctx, "obj-2", src, ".", vi); err != nil {
		t.Fatalf("put v1: %v", err)
	}

	err = r.UpdateObject(ctx, "obj-2", repo.VersionInfo{Message: "v2"}, src, func(ctx context.Context, u *object.Updater) error {
		return u.AddPath(ctx, "bar.txt", "foo.txt", object.Options{})
	})
	if err != nil {
		t.Fatalf("update v2: %v", err)
	}

	desc, err := r.DescribeObject(ctx, "obj-2")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if desc.Head.Num() != 2 {
		t.Fatalf("head = %s, want v2", desc.Head)
	}
	if len(desc.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(desc.Versions))
	}
}

func TestRollbackToVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v1")
	if err := r.PutObject(ctx, "obj-3", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v2")
	if err := r.PutObject(ctx, "obj-3", src, ".", repo.VersionInfo{Message: "v2"}); err != nil {
		t.Fatalf("put v2: %v", err)
	}

	if err := r.RollbackToVersion(ctx, "obj-3", ocfl.V(1)); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	desc, err := r.DescribeObject(ctx, "obj-3")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if desc.Head.Num() != 1 {
		t.Fatalf("head = %s, want v1", desc.Head)
	}
}

func TestMutableHeadLifecycle(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "base content")
	if err := r.PutObject(ctx, "obj-4", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}

	writeSrc(t, src, "staged.txt", "staged content")
	err = r.StageChanges(ctx, "obj-4", repo.VersionInfo{Message: "stage 1"}, src, func(ctx context.Context, u *object.Updater) error {
		return u.AddPath(ctx, "staged.txt", "staged.txt", object.Options{})
	})
	if err != nil {
		t.Fatalf("stage changes: %v", err)
	}

	desc, err := r.DescribeObject(ctx, "obj-4")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !desc.HasMutableHead {
		t.Fatalf("expected a mutable HEAD after staging")
	}
	// The object's published HEAD is unaffected by staging alone.
	if desc.Head.Num() != 1 {
		t.Fatalf("head = %s, want v1 unaffected by staging", desc.Head)
	}

	if err := r.CommitStagedChanges(ctx, "obj-4", repo.VersionInfo{Message: "promote"}); err != nil {
		t.Fatalf("commit staged changes: %v", err)
	}

	desc, err = r.DescribeObject(ctx, "obj-4")
	if err != nil {
		t.Fatalf("describe after commit: %v", err)
	}
	if desc.HasMutableHead {
		t.Fatalf("mutable HEAD should be gone after commit")
	}
	if desc.Head.Num() != 2 {
		t.Fatalf("head = %s, want v2 after promotion", desc.Head)
	}

	dst, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new dst fs: %v", err)
	}
	if err := r.GetObject(ctx, "obj-4", ocfl.Head, dst, "out"); err != nil {
		t.Fatalf("get object: %v", err)
	}
	got, err := ocflfs.ReadAll(ctx, dst, "out/staged.txt")
	if err != nil {
		t.Fatalf("read staged.txt: %v", err)
	}
	if string(got) != "staged content" {
		t.Fatalf("staged.txt = %q, want %q", got, "staged content")
	}
}

func TestPurgeStagedChanges(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "base")
	if err := r.PutObject(ctx, "obj-5", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	err = r.StageChanges(ctx, "obj-5", repo.VersionInfo{Message: "stage"}, src, func(ctx context.Context, u *object.Updater) error {
		return u.AddPath(ctx, "foo.txt", "foo.txt", object.Options{Overwrite: true})
	})
	if err != nil {
		t.Fatalf("stage changes: %v", err)
	}
	if err := r.PurgeStagedChanges(ctx, "obj-5"); err != nil {
		t.Fatalf("purge staged changes: %v", err)
	}
	desc, err := r.DescribeObject(ctx, "obj-5")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if desc.HasMutableHead {
		t.Fatalf("mutable HEAD should be purged")
	}
}

func TestValidateObject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "content")
	if err := r.PutObject(ctx, "obj-6", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	result, err := r.ValidateObject(ctx, "obj-6")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid object, errors: %v", result.Errors)
	}
}

func TestListObjectIds(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "content")
	for _, id := range []string{"obj-a", "obj-b", "obj-c"} {
		if err := r.PutObject(ctx, id, src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	seen := map[string]bool{}
	for id, err := range r.ListObjectIds(ctx) {
		if err != nil {
			t.Fatalf("list object ids: %v", err)
		}
		seen[id] = true
	}
	for _, id := range []string{"obj-a", "obj-b", "obj-c"} {
		if !seen[id] {
			t.Fatalf("expected to see object %s", id)
		}
	}
}

func TestPurgeObject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "content")
	if err := r.PutObject(ctx, "obj-7", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	if err := r.PurgeObject(ctx, "obj-7"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := r.DescribeObject(ctx, "obj-7"); err == nil {
		t.Fatalf("expected object to be gone after purge")
	}
}

func TestExportAndImportObject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "content")
	if err := r.PutObject(ctx, "obj-8", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}

	archiveFS, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new archive fs: %v", err)
	}
	if err := r.ExportObject(ctx, "obj-8", archiveFS, "archived"); err != nil {
		t.Fatalf("export object: %v", err)
	}

	r2, _ := newTestRepo(t)
	if err := r2.ImportObject(ctx, archiveFS, "archived", "obj-8"); err != nil {
		t.Fatalf("import object: %v", err)
	}
	desc, err := r2.DescribeObject(ctx, "obj-8")
	if err != nil {
		t.Fatalf("describe imported object: %v", err)
	}
	if desc.Head.Num() != 1 {
		t.Fatalf("imported object head = %s, want v1", desc.Head)
	}
}

func TestFileChangeHistory(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v1")
	if err := r.PutObject(ctx, "obj-9", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v2")
	if err := r.PutObject(ctx, "obj-9", src, ".", repo.VersionInfo{Message: "v2"}); err != nil {
		t.Fatalf("put v2: %v", err)
	}
	err = r.UpdateObject(ctx, "obj-9", repo.VersionInfo{Message: "v3"}, src, func(ctx context.Context, u *object.Updater) error {
		u.RemoveFile("foo.txt")
		return nil
	})
	if err != nil {
		t.Fatalf("update v3: %v", err)
	}

	events, err := r.FileChangeHistory(ctx, "obj-9", "foo.txt")
	if err != nil {
		t.Fatalf("file change history: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (update, update, remove)", len(events))
	}
	if events[0].Kind != "UPDATE" || events[1].Kind != "UPDATE" || events[2].Kind != "REMOVE" {
		t.Fatalf("unexpected event kinds: %+v", events)
	}
}

func TestReplicateVersionAsHead(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	src, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new src fs: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v1")
	if err := r.PutObject(ctx, "obj-10", src, ".", repo.VersionInfo{Message: "v1"}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	writeSrc(t, src, "foo.txt", "v2")
	if err := r.PutObject(ctx, "obj-10", src, ".", repo.VersionInfo{Message: "v2"}); err != nil {
		t.Fatalf("put v2: %v", err)
	}

	if err := r.ReplicateVersionAsHead(ctx, "obj-10", ocfl.V(1), repo.VersionInfo{Message: "replicate v1"}); err != nil {
		t.Fatalf("replicate: %v", err)
	}

	desc, err := r.DescribeObject(ctx, "obj-10")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if desc.Head.Num() != 3 {
		t.Fatalf("head = %s, want v3", desc.Head)
	}

	var buf bytes.Buffer
	err = r.ReadObject(ctx, "obj-10", ocfl.Head, func(logical string, content io.Reader) error {
		if logical != "foo.txt" {
			return nil
		}
		_, err := buf.ReadFrom(content)
		return err
	})
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if buf.String() != "v1" {
		t.Fatalf("head content = %q, want v1 (replicated)", buf.String())
	}
}
