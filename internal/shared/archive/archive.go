package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"
)

// DefaultExcludes skips hidden entries and build output directories.
var DefaultExcludes = []string{"**/.*", "**/target", "**/build"}

var ErrIllegalPath = errors.New("entry resolves outside destination")

// Error reports a failed archive operation on Path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PackOptions controls Pack. Exclude holds doublestar patterns matched against
// slash-separated paths relative to the packed directory; a matching directory
// is skipped with everything below it.
type PackOptions struct {
	Exclude []string
}

// Pack zips the contents of dir. Entry names are relative to dir.
func Pack(dir string, opts PackOptions) ([]byte, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, &Error{Op: "pack", Path: dir, Err: fmt.Errorf("invalid exclude pattern %q", pattern)}
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, opts.Exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return addEntry(zw, path, rel, info)
	})
	if err != nil {
		return nil, &Error{Op: "pack", Path: dir, Err: err}
	}

	if err := zw.Close(); err != nil {
		return nil, &Error{Op: "pack", Path: dir, Err: err}
	}
	return buf.Bytes(), nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func addEntry(zw *zip.Writer, path, name string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
		_, err = zw.CreateHeader(header)
		return err
	}
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// Unpack extracts a zip into dest, creating it if needed. Entries resolving
// outside dest are rejected with ErrIllegalPath before anything is written.
func Unpack(data []byte, dest string) error {
	// A reader is still returned for insecure entry names; those are
	// rejected by resolve below.
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if zr == nil {
		return &Error{Op: "unpack", Path: dest, Err: err}
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return &Error{Op: "unpack", Path: dest, Err: err}
	}

	for _, f := range zr.File {
		if _, err := resolve(root, f.Name); err != nil {
			return &Error{Op: "unpack", Path: f.Name, Err: err}
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return &Error{Op: "unpack", Path: dest, Err: err}
	}
	for _, f := range zr.File {
		target, _ := resolve(root, f.Name)
		if err := extract(f, target); err != nil {
			return &Error{Op: "unpack", Path: f.Name, Err: err}
		}
	}
	return nil
}

func resolve(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", ErrIllegalPath
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", ErrIllegalPath
	}
	return target, nil
}

func extract(f *zip.File, target string) error {
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
