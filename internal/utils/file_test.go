package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tiff", "c.png", "notes.txt"} {
		touch(t, filepath.Join(dir, name))
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.tif"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListInputs(dir, "*.tif*")
	if err != nil {
		t.Fatalf("ListInputs failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.tiff"), filepath.Join(dir, "b.tif")}
	if len(files) != len(want) {
		t.Fatalf("Expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, files[i])
		}
	}
}

func TestListInputsMissingDir(t *testing.T) {
	if _, err := ListInputs(filepath.Join(t.TempDir(), "nope"), "*"); err == nil {
		t.Error("Expected error for a missing directory")
	}
}

func TestOutputFilename(t *testing.T) {
	got := OutputFilename("/data/tiles/area_01.tiff", "/out", "png")
	if want := filepath.Join("/out", "area_01.png"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if got := OutputFilename("x.tif", "o", ""); got != filepath.Join("o", "x.png") {
		t.Errorf("Expected png fallback, got %s", got)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if !DirExists(dir) {
		t.Error("Directory was not created")
	}
	if FileExists(dir) {
		t.Error("A directory is not a file")
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{512: "512 B", 2048: "2.0 KB", 5 << 20: "5.0 MB"}
	for size, want := range tests {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d) = %s, want %s", size, got, want)
		}
	}
}

func TestGetFileExtension(t *testing.T) {
	tests := map[string]string{"net.ONNX": "onnx", "a/b/tile.tif": "tif", "noext": ""}
	for name, want := range tests {
		if got := GetFileExtension(name); got != want {
			t.Errorf("GetFileExtension(%q) = %q, want %q", name, got, want)
		}
	}
}
