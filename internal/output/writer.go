// Package output replaces the target configuration file atomically.
package output

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

// DefaultMode is applied to a target that does not exist yet.
const DefaultMode fs.FileMode = 0o644

// Result describes a completed write.
type Result struct {
	// Path is the file that was written; symlinked targets resolve to their destination.
	Path    string
	Changed bool
	Bytes   int
}

// Writer persists documents with write-temp, sync, rename semantics.
type Writer struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewWriter creates a Writer on fsys.
func NewWriter(fsys afero.Fs, logger *slog.Logger) *Writer {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{fs: fsys, logger: logger}
}

// Write replaces path with content. Readers observe either the old or the new file,
// never a partial one. If the current content already equals content nothing is
// written and Result.Changed is false. Failures leave the target untouched and
// return WriteFailed.
func (w *Writer) Write(ctx context.Context, path string, content []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	path = w.resolveLink(path)
	res := Result{Path: path, Bytes: len(content)}

	mode := DefaultMode
	if info, err := w.fs.Stat(path); err == nil {
		if info.IsDir() {
			return res, ferrors.WriteFailed("target is a directory").WithContext("path", path).Build()
		}
		mode = info.Mode().Perm()
		if current, rerr := afero.ReadFile(w.fs, path); rerr == nil && bytes.Equal(current, content) {
			return res, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return res, ferrors.WriteFailed("failed to inspect target").WithCause(err).WithContext("path", path).Build()
	}

	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(w.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return res, ferrors.WriteFailed("failed to create temporary file").WithCause(err).WithContext("dir", dir).Build()
	}
	tmpName := tmp.Name()

	fail := func(msg string, cause error) (Result, error) {
		_ = tmp.Close()
		if rerr := w.fs.Remove(tmpName); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			w.logger.Warn("Failed to remove temporary file", logfields.Path(tmpName), logfields.Error(rerr))
		}
		return res, ferrors.WriteFailed(msg).WithCause(cause).WithContext("path", path).Build()
	}

	if _, err := tmp.Write(content); err != nil {
		return fail("failed to write temporary file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("failed to sync temporary file", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("failed to close temporary file", err)
	}
	if err := w.fs.Chmod(tmpName, mode); err != nil {
		return fail("failed to set permissions", err)
	}
	if err := w.fs.Rename(tmpName, path); err != nil {
		return fail("failed to replace target", err)
	}
	w.syncDir(dir)

	res.Changed = true
	return res, nil
}

// syncDir flushes the rename to disk. Filesystems that refuse to sync directories
// are tolerated.
func (w *Writer) syncDir(dir string) {
	d, err := w.fs.Open(dir)
	if err != nil {
		w.logger.Debug("Directory sync skipped", logfields.Dir(dir), logfields.Error(err))
		return
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		w.logger.Debug("Directory sync failed", logfields.Dir(dir), logfields.Error(err))
	}
}

// resolveLink follows a symlinked target so the link itself survives the rename.
func (w *Writer) resolveLink(path string) string {
	lst, ok := w.fs.(afero.Lstater)
	if !ok {
		return path
	}
	info, called, err := lst.LstatIfPossible(path)
	if err != nil || !called || info.Mode()&fs.ModeSymlink == 0 {
		return path
	}
	reader, ok := w.fs.(afero.LinkReader)
	if !ok {
		return path
	}
	dest, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return path
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(path), dest)
	}
	return dest
}
