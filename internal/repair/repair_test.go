package repair

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/assetsync/internal/downloader"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/internal/source"
	"github.com/ligustah/assetsync/internal/verify"
	"github.com/ligustah/assetsync/pkg/manifest"
)

const target = "/install"

type env struct {
	bucket *blob.Bucket
	fs     afero.Fs
	m      *manifest.Manifest
	plain  map[string][]byte
	dl     *downloader.Downloader
	r      *Repairer
	hook   *logtest.Hook
}

func newEnv(t *testing.T, n int) *env {
	t.Helper()
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	e := &env{
		bucket: bucket,
		fs:     afero.NewMemMapFs(),
		m:      &manifest.Manifest{Version: "2.0.0"},
		plain:  make(map[string][]byte),
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("pak/chunk%d.pak", i)
		plain := bytes.Repeat([]byte(name), 50+i)
		packed := enc.EncodeAll(plain, nil)
		require.NoError(t, bucket.WriteAll(ctx, name+manifest.CompressedSuffix, packed, nil))
		require.NoError(t, afero.WriteFile(e.fs, target+"/"+name, plain, 0o644))
		e.plain[name] = plain
		e.m.Files = append(e.m.Files, manifest.Entry{
			Name:     name,
			Checksum: verify.Sum(plain),
			Size:     int64(len(packed)),
		})
	}

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	e.hook = hook
	e.dl = downloader.New(source.NewBucket(bucket), e.fs, nil, log)
	e.r = New(e.dl, e.fs, log)
	return e
}

func fastOptions() Options {
	return Options{
		Download: downloader.Options{
			Concurrency:     4,
			DownloadRetry:   retry.Policy{Attempts: 2, Unit: time.Millisecond, Retryable: []retry.Kind{retry.Network, retry.Stall}},
			DecompressRetry: retry.Policy{Attempts: 1, Unit: time.Millisecond},
		},
	}
}

func TestRunClean(t *testing.T) {
	e := newEnv(t, 4)

	var states []State
	opts := fastOptions()
	opts.OnTransition = func(_, to State) { states = append(states, to) }

	report, err := e.r.Run(context.Background(), e.m, target, opts)
	require.NoError(t, err)
	assert.Equal(t, Clean, report.State)
	assert.Equal(t, 0, report.Attempts)
	assert.Empty(t, report.BadFiles)
	assert.Empty(t, report.Repaired)
	assert.Equal(t, []State{ComputingChecksums, Diffing, Clean}, states)
}

func TestRunConverges(t *testing.T) {
	e := newEnv(t, 10)
	corrupt := []string{e.m.Files[1].Name, e.m.Files[5].Name, e.m.Files[8].Name}
	require.NoError(t, afero.WriteFile(e.fs, target+"/"+corrupt[0], []byte("garbage"), 0o644))
	require.NoError(t, afero.WriteFile(e.fs, target+"/"+corrupt[1], nil, 0o644))
	require.NoError(t, e.fs.Remove(target+"/"+corrupt[2]))

	var states []State
	opts := fastOptions()
	opts.OnTransition = func(_, to State) { states = append(states, to) }

	report, err := e.r.Run(context.Background(), e.m, target, opts)
	require.NoError(t, err)
	assert.Equal(t, Converged, report.State)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, corrupt, report.Repaired)
	assert.Empty(t, report.BadFiles)
	assert.Equal(t, []State{
		ComputingChecksums, Diffing, Repairing,
		ComputingChecksums, Diffing, Converged,
	}, states)

	for name, plain := range e.plain {
		got, err := afero.ReadFile(e.fs, target+"/"+name)
		require.NoError(t, err)
		assert.Equal(t, plain, got, name)
	}
}

func TestRunExhausted(t *testing.T) {
	e := newEnv(t, 3)
	lost := e.m.Files[2].Name
	require.NoError(t, e.bucket.Delete(context.Background(), lost+manifest.CompressedSuffix))
	require.NoError(t, e.fs.Remove(target+"/"+lost))

	var repairs int
	opts := fastOptions()
	opts.OnTransition = func(_, to State) {
		if to == Repairing {
			repairs++
		}
	}

	report, err := e.r.Run(context.Background(), e.m, target, opts)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{lost}, exhausted.Files)
	assert.Equal(t, 5, exhausted.Attempts)

	require.NotNil(t, report)
	assert.Equal(t, Exhausted, report.State)
	assert.Equal(t, 5, report.Attempts)
	assert.Equal(t, 5, repairs)
	assert.Equal(t, []string{lost}, report.BadFiles)
	assert.Empty(t, report.Repaired)

	var logged bool
	for _, entry := range e.hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Message == "repair exhausted" {
			logged = true
			assert.Equal(t, 1, entry.Data["count"])
		}
	}
	assert.True(t, logged)
}

func TestRunMaxAttempts(t *testing.T) {
	e := newEnv(t, 1)
	lost := e.m.Files[0].Name
	require.NoError(t, e.bucket.Delete(context.Background(), lost+manifest.CompressedSuffix))
	require.NoError(t, e.fs.Remove(target+"/"+lost))

	opts := fastOptions()
	opts.MaxAttempts = 2
	report, err := e.r.Run(context.Background(), e.m, target, opts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, report.Attempts)
}

func TestRunCancelled(t *testing.T) {
	e := newEnv(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.r.Run(ctx, e.m, target, fastOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	e := newEnv(t, 5)
	require.NoError(t, afero.WriteFile(e.fs, target+"/"+e.m.Files[3].Name, []byte("x"), 0o644))
	require.NoError(t, e.fs.Remove(target+"/"+e.m.Files[0].Name))

	want := []string{e.m.Files[0].Name, e.m.Files[3].Name}
	for i := 0; i < 2; i++ {
		bad, err := e.r.Verify(context.Background(), e.m, target, 2)
		require.NoError(t, err)
		assert.Equal(t, want, bad)
	}

	_, err := e.r.Verify(context.Background(), nil, target, 2)
	assert.ErrorIs(t, err, downloader.ErrNoManifest)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "computing-checksums", ComputingChecksums.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.True(t, Converged.Terminal())
	assert.False(t, Repairing.Terminal())
}
