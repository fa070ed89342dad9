package vfs

import (
	"path/filepath"
	"testing"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vdisk")
	fs, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return fs
}

func TestNewFormatsOnFirstRun(t *testing.T) {

	fs := newTestFS(t)
	if fs.driver == nil {
		t.Fatalf("New returned a FileSystem with no driver")
	}

	// A second New against the same path should mount the file Format
	// already produced rather than reformatting it.
	again, err := New(fs.driver.Path())
	if err != nil {
		t.Fatalf("second New against an existing vdisk failed: %v", err)
	}
	if err := again.Mkdir("/already-there"); err != nil {
		t.Fatalf("Mkdir on the reopened filesystem failed: %v", err)
	}

}

func TestSplitFirst(t *testing.T) {

	cases := []struct {
		path  string
		token string
		rest  string
		more  bool
	}{
		{"a/b/c", "a", "b/c", true},
		{"a", "a", "", false},
		{"", "", "", false},
		{"/a", "", "a", true},
	}

	for _, c := range cases {
		token, rest, more := splitFirst(c.path)
		if token != c.token || rest != c.rest || more != c.more {
			t.Errorf("splitFirst(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.path, token, rest, more, c.token, c.rest, c.more)
		}
	}

}

func TestBasename(t *testing.T) {

	cases := map[string]string{
		"/a":     "a",
		"/a/b":   "b",
		"/a/b/c": "c",
		"/x":     "x",
	}
	for path, want := range cases {
		if got := basename(path); got != want {
			t.Errorf("basename(%q) = %q, want %q", path, got, want)
		}
	}

}

func TestMkdirRejectsMalformedPaths(t *testing.T) {

	fs := newTestFS(t)

	for _, path := range []string{"", "relative", "/", "/a/", "/a//b"} {
		if err := fs.Mkdir(path); err == nil {
			t.Errorf("Mkdir(%q) should have failed", path)
		}
	}

}

func TestMkdirRmdirRoundTrip(t *testing.T) {

	fs := newTestFS(t)

	if err := fs.Mkdir("/a"); err != nil {
		t.Fatalf("Mkdir(/a) failed: %v", err)
	}
	if err := fs.Mkdir("/a"); err == nil {
		t.Errorf("Mkdir(/a) should fail the second time, path already exists")
	}
	if err := fs.Mkdir("/a/b"); err != nil {
		t.Fatalf("Mkdir(/a/b) failed: %v", err)
	}

	if err := fs.Rmdir("/a"); err == nil {
		t.Errorf("Rmdir(/a) should fail while it still contains /a/b")
	}

	if err := fs.Rmdir("/a/b"); err != nil {
		t.Fatalf("Rmdir(/a/b) failed: %v", err)
	}
	if err := fs.Rmdir("/a"); err != nil {
		t.Fatalf("Rmdir(/a) failed once empty: %v", err)
	}
	if err := fs.Rmdir("/a"); err == nil {
		t.Errorf("Rmdir(/a) should fail once already removed")
	}

}

func TestOpenCreatesThenReusesFile(t *testing.T) {

	fs := newTestFS(t)

	if err := fs.Open("/f"); err != nil {
		t.Fatalf("Open(/f) failed to create a new file: %v", err)
	}
	if err := fs.Open("/f"); err == nil {
		t.Errorf("Open should fail with a file already open")
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := fs.Open("/f"); err != nil {
		t.Fatalf("Open(/f) failed to reopen an existing file: %v", err)
	}
	if size := fs.GetOpenFileSize(); size != 0 {
		t.Errorf("GetOpenFileSize() = %d, want 0 for a freshly created file", size)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

}

func TestOpenRejectsDirectories(t *testing.T) {

	fs := newTestFS(t)
	if err := fs.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := fs.Open("/dir"); err != ErrWrongKind {
		t.Errorf("Open on a directory = %v, want ErrWrongKind", err)
	}

}
