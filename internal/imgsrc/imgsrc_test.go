package imgsrc

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/unikraft/app-elfloader/internal/config"
)

func TestInitrdOpenKnownAndUnknown(t *testing.T) {
	src := Initrd{Files: map[string][]byte{"/bin/app": {1, 2, 3, 4}}}

	img, err := src.Open("/bin/app")
	if err != nil {
		t.Fatalf("Open known: %v", err)
	}
	if img.Size != 4 {
		t.Errorf("Size = %d, want 4", img.Size)
	}
	buf := make([]byte, 4)
	if _, err := img.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if img.Fd != -1 {
		t.Errorf("Fd = %d, want -1 for an in-memory image", img.Fd)
	}

	if _, err := src.Open("/bin/missing"); err == nil {
		t.Fatalf("expected an error opening an unknown name")
	}
}

func TestVFSOpenRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app")
	if err := os.WriteFile(path, []byte("hello"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := VFS{Cfg: config.Config{}}
	img, err := src.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()

	if img.Size != 5 {
		t.Errorf("Size = %d, want 5", img.Size)
	}
	if img.Fd < 0 {
		t.Errorf("Fd = %d, want a real descriptor", img.Fd)
	}

	got := make([]byte, 5)
	if _, err := io.ReadFull(io.NewSectionReader(img, 0, 5), got); err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}
}

func TestVFSOpenRejectsMissingExecBit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := VFS{Cfg: config.Config{ExecBit: true}}
	if _, err := src.Open(path); err == nil {
		t.Fatalf("expected ExecBit to reject a non-executable file")
	}

	src2 := VFS{Cfg: config.Config{ExecBit: false}}
	img, err := src2.Open(path)
	if err != nil {
		t.Fatalf("Open without ExecBit: %v", err)
	}
	img.Close()
}

func TestVFSOpenRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	src := VFS{Cfg: config.Config{}}
	if _, err := src.Open(dir); err == nil {
		t.Fatalf("expected opening a directory to fail")
	}
}
