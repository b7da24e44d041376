package stage_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ocflkit/ocfl/digest"
	"github.com/ocflkit/ocfl/fs/local"
	"github.com/ocflkit/ocfl/stage"
)

func newSrcFS(t *testing.T, files map[string]string) *local.FS {
	t.Helper()
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new local fs: %v", err)
	}
	for name, content := range files {
		if _, err := fsys.Write(context.Background(), name, strings.NewReader(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fsys
}

func TestAddPathComputesDigestAndRejectsDuplicatePath(t *testing.T) {
	ctx := context.Background()
	src := newSrcFS(t, map[string]string{"foo.txt": "hello"})
	s := stage.New(digest.NewRegistry(), digest.SHA512, src)

	if err := s.AddPath(ctx, "a/foo.txt", "foo.txt"); err != nil {
		t.Fatalf("add path: %v", err)
	}
	dig := s.State().GetDigest("a/foo.txt")
	if dig == "" {
		t.Fatalf("expected a digest for a/foo.txt")
	}
	if !s.HasContent(dig) {
		t.Fatalf("expected stage to have content for %s", dig)
	}

	if err := s.AddPath(ctx, "a/foo.txt", "foo.txt"); err == nil {
		t.Fatalf("expected error re-adding the same logical path")
	}
}

func TestRemoveAndRenameFile(t *testing.T) {
	ctx := context.Background()
	src := newSrcFS(t, map[string]string{"foo.txt": "hello"})
	s := stage.New(digest.NewRegistry(), digest.SHA512, src)
	if err := s.AddPath(ctx, "foo.txt", "foo.txt"); err != nil {
		t.Fatalf("add path: %v", err)
	}

	if err := s.RenameFile("foo.txt", "bar.txt"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if s.State().GetDigest("foo.txt") != "" {
		t.Fatalf("foo.txt should no longer be in state after rename")
	}
	if s.State().GetDigest("bar.txt") == "" {
		t.Fatalf("bar.txt should be in state after rename")
	}

	s.RemoveFile("bar.txt")
	if s.State().GetDigest("bar.txt") != "" {
		t.Fatalf("bar.txt should be removed from state")
	}
	// Removing an absent path is a no-op, not an error.
	s.RemoveFile("bar.txt")
}

func TestClearState(t *testing.T) {
	ctx := context.Background()
	src := newSrcFS(t, map[string]string{"foo.txt": "hello"})
	s := stage.New(digest.NewRegistry(), digest.SHA512, src)
	if err := s.AddPath(ctx, "foo.txt", "foo.txt"); err != nil {
		t.Fatalf("add path: %v", err)
	}
	s.ClearState()
	if s.State().Len() != 0 {
		t.Fatalf("expected empty state after ClearState, got %d entries", s.State().Len())
	}
}

func TestAddFixity(t *testing.T) {
	ctx := context.Background()
	src := newSrcFS(t, map[string]string{"foo.txt": "hello"})
	reg := digest.NewRegistry()
	s := stage.New(reg, digest.SHA512, src)
	if err := s.AddPath(ctx, "foo.txt", "foo.txt"); err != nil {
		t.Fatalf("add path: %v", err)
	}
	if err := s.AddFixity(digest.MD5.ID(), "foo.txt"); err != nil {
		t.Fatalf("add fixity: %v", err)
	}
}
