// Package filestore serves the bytes behind shares.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gofrs/uuid/v5"
)

// Store loads file contents by file ID.
type Store interface {
	// LoadBytes opens the file; the caller closes the reader. A missing file yields errs.ErrNotFound.
	LoadBytes(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, model.FileInfo, error)
}

// Local keeps every file as root/<file uuid>.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	return &Local{root: root}, nil
}

// Path returns where the file with the given ID lives.
func (l *Local) Path(fileID uuid.UUID) string {
	return filepath.Join(l.root, fileID.String())
}

// LoadBytes opens the file and sniffs its content type from the leading bytes.
func (l *Local) LoadBytes(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, model.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.FileInfo{}, err
	}
	if fileID == uuid.Nil {
		return nil, model.FileInfo{}, fmt.Errorf("empty file id: %w", errs.ErrInvalidArgument)
	}

	f, err := os.Open(l.Path(fileID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.FileInfo{}, fmt.Errorf("file %s: %w", fileID, errs.ErrNotFound)
		}
		return nil, model.FileInfo{}, fmt.Errorf("open file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, model.FileInfo{}, fmt.Errorf("stat file: %w", err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, model.FileInfo{}, fmt.Errorf("file %s: %w", fileID, errs.ErrNotFound)
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		_ = f.Close()
		return nil, model.FileInfo{}, fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, model.FileInfo{}, fmt.Errorf("rewind file: %w", err)
	}

	return f, model.FileInfo{
		Name:        fileID.String() + mt.Extension(),
		Size:        st.Size(),
		ContentType: mt.String(),
		ModTime:     st.ModTime(),
	}, nil
}
