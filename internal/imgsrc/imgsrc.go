// Package imgsrc turns a requested name into a readable, seekable
// handle on an ELF64 image, either from an in-memory initrd region or
// from the filesystem.
package imgsrc

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/unikraft/app-elfloader/internal/config"
	"github.com/unikraft/app-elfloader/internal/elferr"
)

// Image is a readable, seekable handle on an executable image plus
// whatever bookkeeping Close needs to release it.
type Image struct {
	io.ReaderAt
	Size  int64
	Path  string // canonical path, used for AT_EXECFN
	Fd    int    // -1 for in-memory images; a real fd for file-backed mapping
	close func() error
}

func (img *Image) Close() error {
	if img.close == nil {
		return nil
	}
	return img.close()
}

// Source resolves a requested name to an Image.
type Source interface {
	Open(name string) (*Image, error)
}

// Initrd serves images out of an in-memory byte region: Files maps a
// logical name to the image bytes, the way an initrd's flat file list
// would be indexed by the boot loader.
type Initrd struct {
	Files map[string][]byte
}

func (r Initrd) Open(name string) (*Image, error) {
	b, ok := r.Files[name]
	if !ok {
		return nil, elferr.New(elferr.IO, "initrd: no such image %q", name)
	}
	return &Image{
		ReaderAt: bytes.NewReader(b),
		Size:     int64(len(b)),
		Path:     name,
		Fd:       -1,
	}, nil
}

// VFS serves images from the filesystem, honoring the
// EnvPath/ExecBit toggles.
type VFS struct {
	Cfg config.Config
}

func (v VFS) Open(name string) (*Image, error) {
	path := name
	if v.Cfg.EnvPath && !strings.ContainsRune(name, os.PathSeparator) {
		resolved, err := exec.LookPath(name)
		if err != nil {
			return nil, elferr.Wrap(elferr.IO, err, "vfs: %q not found on $PATH", name)
		}
		path = resolved
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, elferr.Wrap(elferr.IO, err, "vfs: opening %q", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, elferr.Wrap(elferr.IO, err, "vfs: stat %q", path)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, elferr.New(elferr.IO, "vfs: %q is not a regular file", path)
	}
	if v.Cfg.ExecBit && info.Mode()&0o100 == 0 {
		f.Close()
		return nil, elferr.New(elferr.BadInvocation, "vfs: %q is not executable (S_IXUSR unset)", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Image{
		ReaderAt: f,
		Size:     info.Size(),
		Path:     abs,
		Fd:       int(f.Fd()),
		close:    f.Close,
	}, nil
}
