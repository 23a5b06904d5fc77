package store_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/forge-release/executor"
	"github.com/input-output-hk/forge-release/internal/testutil"
	"github.com/input-output-hk/forge-release/store"
)

func gcsLocation(t *testing.T) store.Location {
	t.Helper()
	loc, err := store.ParseLocation("gs://appscode-cdn")
	require.NoError(t, err)
	return loc
}

func TestGSUtilPutPublic(t *testing.T) {
	var uploaded []byte
	runner := &testutil.FakeRunner{
		RunFunc: func(_ context.Context, call testutil.Call) (*executor.Result, error) {
			if call.Options.Stdin != nil {
				uploaded, _ = io.ReadAll(call.Options.Stdin)
			}
			return &executor.Result{}, nil
		},
	}
	st := store.NewGSUtil(gcsLocation(t), "", runner, nil)

	err := st.Put(context.Background(), "binaries/steward/latest.txt",
		bytes.NewReader([]byte("1.0.0")), store.WithPublicRead())
	require.NoError(t, err)

	lines := runner.Lines()
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "gsutil -h Content-Type:text/plain"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], " cp - gs://appscode-cdn/binaries/steward/latest.txt"), lines[0])
	assert.Equal(t, "gsutil acl ch -u AllUsers:R gs://appscode-cdn/binaries/steward/latest.txt", lines[1])
	assert.Equal(t, "1.0.0", string(uploaded))
}

func TestGSUtilPutPrivateSkipsACL(t *testing.T) {
	runner := &testutil.FakeRunner{}
	st := store.NewGSUtil(gcsLocation(t), "gsutil", runner, nil)

	require.NoError(t, st.Put(context.Background(), "a.json", bytes.NewReader([]byte("{}"))))
	assert.Len(t, runner.Calls(), 1)
}

func TestGSUtilPutFailureSkipsACL(t *testing.T) {
	runner := &testutil.FakeRunner{
		RunFunc: func(context.Context, testutil.Call) (*executor.Result, error) {
			return &executor.Result{ExitCode: 1, Stderr: "AccessDeniedException: 403"}, errors.New("exit status 1")
		},
	}
	st := store.NewGSUtil(gcsLocation(t), "gsutil", runner, nil)

	err := st.Put(context.Background(), "a.json", bytes.NewReader([]byte("{}")), store.WithPublicRead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDeniedException")
	assert.Len(t, runner.Calls(), 1)
}

func TestGSUtilGet(t *testing.T) {
	runner := &testutil.FakeRunner{
		RunFunc: func(_ context.Context, call testutil.Call) (*executor.Result, error) {
			if call.Args[1] == "gs://appscode-cdn/binaries/steward/versions.json" {
				return &executor.Result{Stdout: `{"1.0.0":{}}`}, nil
			}
			return &executor.Result{
				ExitCode: 1,
				Stderr:   "CommandException: No URLs matched: " + call.Args[1],
			}, errors.New("exit status 1")
		},
	}
	st := store.NewGSUtil(gcsLocation(t), "gsutil", runner, nil)

	data, err := st.Get(context.Background(), "binaries/steward/versions.json")
	require.NoError(t, err)
	assert.Equal(t, `{"1.0.0":{}}`, string(data))

	_, err = st.Get(context.Background(), "binaries/missing/versions.json")
	assert.True(t, store.IsObjectNotFound(err))
}

func TestGSUtilGetOtherFailure(t *testing.T) {
	for _, stderr := range []string{
		"ServiceException: 503",
		"ServiceException: 500 Internal error, request id 8f404c2e",
		"BucketNotFoundException: 404 gs://appscode-cnd bucket does not exist.",
	} {
		runner := &testutil.FakeRunner{
			RunFunc: func(context.Context, testutil.Call) (*executor.Result, error) {
				return &executor.Result{ExitCode: 1, Stderr: stderr}, errors.New("exit status 1")
			},
		}
		st := store.NewGSUtil(gcsLocation(t), "gsutil", runner, nil)

		_, err := st.Get(context.Background(), "binaries/steward/versions.json")
		require.Error(t, err, stderr)
		assert.False(t, store.IsObjectNotFound(err), stderr)
	}
}
