package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk failed: %v", err)
	}
	return d
}

func TestNewDisk_CreatesAnonymousDir(t *testing.T) {
	d := newTestDisk(t)

	info, err := os.Stat(d.DirFor(AnonymousDir))
	if err != nil {
		t.Fatalf("anonymous dir missing: %v", err)
	}
	if !info.IsDir() {
		t.Error("anonymous path is not a directory")
	}
}

func TestWriteAtomic(t *testing.T) {
	d := newTestDisk(t)
	dir := d.DirFor(AnonymousDir)

	data := []byte("fake image bytes")
	n, err := d.WriteAtomic(dir, "abcd.png", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}

	got, err := os.ReadFile(filepath.Join(dir, "abcd.png"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("written bytes differ from input")
	}

	// Временных файлов после успешной записи не остается
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("client disconnected")
}

func TestWriteAtomic_FailedWriteLeavesNothing(t *testing.T) {
	d := newTestDisk(t)
	dir := d.DirFor(AnonymousDir)

	if _, err := d.WriteAtomic(dir, "gone.png", failingReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed write left %d files behind", len(entries))
	}
}

func TestReplaceAtomic(t *testing.T) {
	d := newTestDisk(t)
	dir := d.DirFor(AnonymousDir)
	path := filepath.Join(dir, "swap.png")

	if err := os.WriteFile(path, []byte("before"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := d.ReplaceAtomic(path, []byte("after")); err != nil {
		t.Fatalf("ReplaceAtomic failed: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "after" {
		t.Errorf("expected replaced content, got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	valid := []string{"abcd.png", "XyZ29.jpeg", "a_b-c.webp", "name.tar.gz"}
	for _, name := range valid {
		if err := SanitizeFilename(name); err != nil {
			t.Errorf("SanitizeFilename(%q) unexpectedly rejected: %v", name, err)
		}
	}

	invalid := []string{
		"",
		"../../etc/passwd",
		"..",
		"a/b.png",
		`a\b.png`,
		".hidden",
		"name with space.png",
		"q%20.png",
		"файл.png",
		strings.Repeat("a", 256),
	}
	for _, name := range invalid {
		if err := SanitizeFilename(name); err == nil {
			t.Errorf("SanitizeFilename(%q) should be rejected", name)
		}
	}
}

func TestResolveWithin_BlocksEscapes(t *testing.T) {
	d := newTestDisk(t)
	dir := d.DirFor(AnonymousDir)

	// Файл за пределами директории существует, но не должен резолвиться
	outside := filepath.Join(d.Root(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"../secret.txt", "..%2Fsecret.txt", "/etc/passwd", `..\secret.txt`} {
		if _, err := d.ResolveWithin(dir, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ResolveWithin(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestResolveWithin(t *testing.T) {
	d := newTestDisk(t)
	dir := d.DirFor(AnonymousDir)

	if err := os.WriteFile(filepath.Join(dir, "ok.png"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err := d.ResolveWithin(dir, "ok.png")
	if err != nil {
		t.Fatalf("ResolveWithin failed: %v", err)
	}
	if !strings.HasPrefix(path, dir) {
		t.Errorf("resolved path %q escapes %q", path, dir)
	}

	if _, err := d.ResolveWithin(dir, "missing.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing file, got %v", err)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"a.png":    "image/png",
		"b.JPG":    "image/jpeg",
		"c.jpeg":   "image/jpeg",
		"d.gif":    "image/gif",
		"e.webp":   "image/webp",
		"f.wasm":   "application/octet-stream",
		"noext":    "application/octet-stream",
		"g.tiff":   "image/tiff",
		"icon.ico": "image/x-icon",
	}
	for name, want := range cases {
		if got := ContentTypeFor(name); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}
