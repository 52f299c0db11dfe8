package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestLocal_LoadBytes(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "files")
	store, err := NewLocal(root)
	require.NoError(t, err)
	ctx := context.Background()

	txt := uuid.Must(uuid.NewV4())
	require.NoError(t, os.WriteFile(store.Path(txt), []byte("hello, share"), 0o600))
	png := uuid.Must(uuid.NewV4())
	require.NoError(t, os.WriteFile(store.Path(png), pngBytes, 0o600))

	rc, info, err := store.LoadBytes(ctx, txt)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello, share", string(body), "reader is rewound after sniffing")
	require.Equal(t, int64(12), info.Size)
	require.True(t, strings.HasPrefix(info.ContentType, "text/plain"))
	require.Equal(t, txt.String()+".txt", info.Name)

	rc, info, err = store.LoadBytes(ctx, png)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "image/png", info.ContentType)
	require.Equal(t, png.String()+".png", info.Name)
}

func TestLocal_LoadBytesErrors(t *testing.T) {
	t.Parallel()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.LoadBytes(context.Background(), uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, _, err = store.LoadBytes(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	dir := uuid.Must(uuid.NewV4())
	require.NoError(t, os.Mkdir(store.Path(dir), 0o700))
	_, _, err = store.LoadBytes(context.Background(), dir)
	require.ErrorIs(t, err, errs.ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = store.LoadBytes(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, context.Canceled)
}
