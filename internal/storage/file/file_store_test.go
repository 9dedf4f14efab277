package file

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeenode/predictd/pkg/errors"
)

func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store, err := NewArtifactStore(&Config{
		BasePath:   t.TempDir(),
		CreateDirs: true,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))
	return store
}

func TestNewArtifactStoreValidation(t *testing.T) {
	_, err := NewArtifactStore(nil, nil)
	assert.Error(t, err)

	_, err = NewArtifactStore(&Config{}, nil)
	assert.Error(t, err)
}

func TestConnectCreatesDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "artifacts")
	store, err := NewArtifactStore(&Config{BasePath: base, CreateDirs: true}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Connect(context.Background()))

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConnectFailsOnMissingDirectory(t *testing.T) {
	store, err := NewArtifactStore(&Config{
		BasePath:   filepath.Join(t.TempDir(), "does-not-exist"),
		CreateDirs: false,
	}, nil)
	require.NoError(t, err)

	assert.Error(t, store.Connect(context.Background()))
}

func TestArtifactRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"schema_version":1}`)
	require.NoError(t, store.PutArtifact(ctx, "v_abc_1", payload))

	data, err := store.GetArtifact(ctx, "v_abc_1")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestPutArtifactOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, "v_abc_1", []byte("first")))
	require.NoError(t, store.PutArtifact(ctx, "v_abc_1", []byte("second")))

	data, err := store.GetArtifact(ctx, "v_abc_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestGetMissingArtifact(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetArtifact(context.Background(), "v_missing_0")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrArtifactNotFound))
}

func TestDeleteArtifact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutArtifact(ctx, "v_abc_1", []byte("payload")))
	require.NoError(t, store.DeleteArtifact(ctx, "v_abc_1"))

	_, err := store.GetArtifact(ctx, "v_abc_1")
	assert.Error(t, err)

	// Deleting a missing artifact is not an error.
	assert.NoError(t, store.DeleteArtifact(ctx, "v_abc_1"))
}

func TestPingAfterDirectoryRemoved(t *testing.T) {
	base := t.TempDir()
	store, err := NewArtifactStore(&Config{BasePath: base}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(base))
	assert.Error(t, store.Ping(context.Background()))
}
