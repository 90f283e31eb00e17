package destfile_test

import (
	"crypto/sha1"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/messa/logline/internal/destfile"
)

func sha1b64(b []byte) string {
	sum := sha1.Sum(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestResolveMangledPath(t *testing.T) {
	got := destfile.Resolve("/dest", "host1", "/var/log/app/access.log")
	want := filepath.Join("/dest", "host1", "var~log~app", "access.log")
	if got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveTopLevelSourceFile(t *testing.T) {
	got := destfile.Resolve("/dest", "host1", "/access.log")
	want := filepath.Join("/dest", "host1", "access.log")
	if got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestOpenCreatesFreshFile(t *testing.T) {
	root := t.TempDir()
	f, err := destfile.Open(root, "host1", "/a/b.log", 50, sha1b64([]byte{}), time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if f.Length != 0 {
		t.Fatalf("Length = %d, want 0", f.Length)
	}
}

func TestOpenReusesMatchingPrefix(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "host1", "a", "b.log")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("2021-02-22 Hello world!\n")
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		t.Fatal(err)
	}

	prefix := content
	f, err := destfile.Open(root, "host1", "/a/b.log", len(prefix), sha1b64(prefix), time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if f.Length != int64(len(content)) {
		t.Fatalf("Length = %d, want %d", f.Length, len(content))
	}

	if err := f.Append(f.Length, []byte("Second line\n")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "2021-02-22 Hello world!\nSecond line\n" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

func TestOpenRotatesOnPrefixMismatch(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "host1", "b.log")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("A\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	newPrefix := []byte("B\n")
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	f, err := destfile.Open(root, "host1", "/b.log", len(newPrefix), sha1b64(newPrefix), now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if f.Length != 0 {
		t.Fatalf("Length = %d, want 0 for freshly rotated file", f.Length)
	}

	if err := f.Append(0, newPrefix); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rotated := dst + ".rotated-20240102T030405Z"
	data, err := os.ReadFile(rotated)
	if err != nil {
		t.Fatalf("expected rotated sibling at %s: %v", rotated, err)
	}
	if string(data) != "A\n" {
		t.Fatalf("rotated file content = %q, want %q", data, "A\n")
	}

	data, err = os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "B\n" {
		t.Fatalf("new file content = %q, want %q", data, "B\n")
	}
}

func TestAppendRejectsOffsetMismatch(t *testing.T) {
	root := t.TempDir()
	f, err := destfile.Open(root, "host1", "/c.log", 50, sha1b64([]byte{}), time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if err := f.Append(5, []byte("x")); err == nil {
		t.Fatal("expected error for offset mismatch")
	}
}
