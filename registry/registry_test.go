package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/internal/testutil"
	"github.com/input-output-hk/forge-release/registry"
)

func parseStored(t *testing.T, st *testutil.MemoryStore, key string) registry.Registry {
	t.Helper()
	obj, ok := st.Object(key)
	require.True(t, ok, "object %s not stored", key)
	reg, err := registry.Parse(obj.Data)
	require.NoError(t, err)
	return reg
}

func newReconciler(st *testutil.MemoryStore) *registry.Reconciler {
	return registry.NewReconciler(st, "/dist", registry.WithFilesystem(memfs.New()))
}

func TestReconcileMissingRemote(t *testing.T) {
	fs := memfs.New()
	st := testutil.NewMemoryStore()
	r := registry.NewReconciler(st, "/dist", registry.WithFilesystem(fs))

	require.NoError(t, r.Reconcile(context.Background(), "steward", "1.0.0", time.Unix(500, 0)))

	reg := parseStored(t, st, "binaries/steward/versions.json")
	assert.Equal(t, registry.Registry{"1.0.0": {Changesets: []string{}, ReleaseDate: 500}}, reg)

	latest, ok := st.Object("binaries/steward/latest.txt")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", string(latest.Data))
	assert.True(t, latest.PublicRead)

	obj, _ := st.Object("binaries/steward/versions.json")
	assert.True(t, obj.PublicRead)
	assert.JSONEq(t, `{"1.0.0": {"changesets": [], "release_date": 500}}`, string(obj.Data))

	scratch, err := util.ReadFile(fs, "/dist/steward/latest.txt")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", string(scratch), "no trailing newline")

	scratchReg, err := util.ReadFile(fs, "/dist/steward/versions.json")
	require.NoError(t, err)
	assert.Equal(t, obj.Data, scratchReg)
}

func TestReconcileScratchOnDisk(t *testing.T) {
	dist := t.TempDir()
	st := testutil.NewMemoryStore()
	r := registry.NewReconciler(st, dist)

	require.NoError(t, r.Reconcile(context.Background(), "steward", "1.0.0", time.Unix(500, 0)))

	scratch, err := os.ReadFile(filepath.Join(dist, "steward", "latest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", string(scratch))
	assert.Equal(t, filepath.Join(dist, "steward"), r.ScratchDir("steward"))
}

func TestReconcileExistingVersionUntouched(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Set("binaries/steward/versions.json", []byte(`{"1.0.0": {"changesets": ["fix-x"], "release_date": 100}}`))
	r := newReconciler(st)

	require.NoError(t, r.Reconcile(context.Background(), "steward", "1.0.0", time.Unix(500, 0)))

	reg := parseStored(t, st, "binaries/steward/versions.json")
	assert.Equal(t, registry.Registry{"1.0.0": {Changesets: []string{"fix-x"}, ReleaseDate: 100}}, reg)

	latest, _ := st.Object("binaries/steward/latest.txt")
	assert.Equal(t, "1.0.0", string(latest.Data))
}

func TestReconcileAddsNewVersion(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Set("binaries/steward/versions.json", []byte(`{"1.0.0": {"changesets": ["fix-x"], "release_date": 100}}`))
	r := newReconciler(st)

	require.NoError(t, r.Reconcile(context.Background(), "steward", "1.1.0", time.Unix(900, 0)))

	reg := parseStored(t, st, "binaries/steward/versions.json")
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, reg.Versions())
	assert.Equal(t, []string{"fix-x"}, reg["1.0.0"].Changesets)
	assert.Equal(t, int64(900), reg["1.1.0"].ReleaseDate)

	latest, _ := st.Object("binaries/steward/latest.txt")
	assert.Equal(t, "1.1.0", string(latest.Data))
}

func TestReconcileMalformedRemote(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Set("binaries/steward/versions.json", []byte(`{"1.0.0": `))
	r := newReconciler(st)

	err := r.Reconcile(context.Background(), "steward", "2.0.0", time.Unix(500, 0))
	require.Error(t, err)
	assert.True(t, relerrors.Is(err, relerrors.CodeRegistryFailed))
	assert.Empty(t, st.Puts(), "nothing is uploaded")

	obj, _ := st.Object("binaries/steward/versions.json")
	assert.Equal(t, `{"1.0.0": `, string(obj.Data))
}

func TestReconcileFetchError(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.GetErr["binaries/steward/versions.json"] = errors.New("permission denied")
	r := newReconciler(st)

	err := r.Reconcile(context.Background(), "steward", "2.0.0", time.Unix(500, 0))
	assert.True(t, relerrors.Is(err, relerrors.CodeRegistryFailed))
	assert.Empty(t, st.Puts())
}

func TestReconcileRegistryUploadFailureSkipsLatest(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Set("binaries/steward/latest.txt", []byte("0.9.0"))
	st.PutErr["binaries/steward/versions.json"] = errors.New("quota exceeded")
	r := newReconciler(st)

	err := r.Reconcile(context.Background(), "steward", "1.0.0", time.Unix(500, 0))
	require.Error(t, err)
	assert.True(t, relerrors.Is(err, relerrors.CodeRegistryFailed))
	assert.Equal(t, []string{"binaries/steward/versions.json"}, st.Puts())

	latest, _ := st.Object("binaries/steward/latest.txt")
	assert.Equal(t, "0.9.0", string(latest.Data))
}

func TestReconcileLatestUploadFailure(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.PutErr["binaries/steward/latest.txt"] = errors.New("quota exceeded")
	r := newReconciler(st)

	err := r.Reconcile(context.Background(), "steward", "1.0.0", time.Unix(500, 0))
	assert.True(t, relerrors.Is(err, relerrors.CodeRegistryFailed))
}

func TestReconcileIdempotent(t *testing.T) {
	st := testutil.NewMemoryStore()
	r := newReconciler(st)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, "steward", "1.0.0", time.Unix(500, 0)))
	first, _ := st.Object("binaries/steward/versions.json")
	require.NoError(t, r.Reconcile(ctx, "steward", "1.0.0", time.Unix(800, 0)))
	second, _ := st.Object("binaries/steward/versions.json")

	assert.Equal(t, first.Data, second.Data)
}

func TestReconcileEmptyVersion(t *testing.T) {
	r := newReconciler(testutil.NewMemoryStore())
	err := r.Reconcile(context.Background(), "steward", "", time.Unix(1, 0))
	assert.True(t, relerrors.Is(err, relerrors.CodeInvalidInput))
}

func TestEncodeSortedIndented(t *testing.T) {
	reg := registry.Registry{
		"2.0.0": {Changesets: []string{}, ReleaseDate: 2},
		"1.0.0": {Changesets: []string{"a"}, ReleaseDate: 1},
	}
	data, err := reg.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{
  "1.0.0": {
    "changesets": [
      "a"
    ],
    "release_date": 1
  },
  "2.0.0": {
    "changesets": [],
    "release_date": 2
  }
}
`, string(data))
}

func TestParseNull(t *testing.T) {
	reg, err := registry.Parse([]byte("null"))
	require.NoError(t, err)
	assert.Empty(t, reg)
	assert.True(t, reg.Merge("1.0.0", time.Unix(3, 0)))
	assert.False(t, reg.Merge("1.0.0", time.Unix(4, 0)))
}
