package operations

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxmcli/internal/config"
	"sxmcli/internal/dataset"
	"sxmcli/internal/errs"
	"sxmcli/internal/fitting"
	"sxmcli/internal/infrastructure"
	"sxmcli/internal/spectroscopy"
	"sxmcli/internal/sxmfile"
	"sxmcli/pkg/contracts/events"
)

// writeScanFile writes a minimal one-channel 1x2 int16 frame.
func writeScanFile(t *testing.T, dir, name string, samples ...int16) string {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("xPixel : 2\n")
	b.WriteString("yPixel : 1\n")
	b.WriteString("FeedbackMode : on\n")
	b.WriteString(sxmfile.BinarySentinel)
	b.WriteString("\n")
	for _, s := range samples {
		var word [2]byte
		binary.LittleEndian.PutUint16(word[:], uint16(s))
		b.Write(word[:])
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
	return path
}

// writeGridFile writes a sectioned sweep file declaring a rows x cols
// matrix with one three-sample sweep per cell.
func writeGridFile(t *testing.T, dir, name string, rows, cols int) string {
	t.Helper()
	var b strings.Builder
	for idx := 0; idx < rows*cols; idx++ {
		b.WriteString(sxmfile.BlockSentinel + "\n")
		b.WriteString("Columns : Bias [V], Current [A]\n")
		fmt.Fprintf(&b, "GridRows : %d\nGridCols : %d\n", rows, cols)
		fmt.Fprintf(&b, "MatrixIndex : %d\n", idx)
		b.WriteString(sxmfile.DataSentinel + "\n")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&b, "%d %d\n", i, idx*10+i)
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func newTestRunner(t *testing.T) (*Runner, *dataset.Index, *infrastructure.Metrics) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Workers = 2
	metrics := infrastructure.NewMetrics()
	index := dataset.New(cfg, nil, metrics)
	loader := spectroscopy.NewLoader(nil, 0, 2)
	fitter := fitting.NewFitter(nil, 0)
	return NewRunner(cfg, index, loader, fitter, nil, metrics), index, metrics
}

// collectBatch drains the shared channel until the batch's BatchDone
// arrives, keeping only that batch's events.
func collectBatch(t *testing.T, r *Runner, token string) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.Events():
			if ev.Token != token {
				continue
			}
			got = append(got, ev)
			if ev.Type == events.TypeBatchDone {
				return got
			}
		case <-deadline:
			t.Fatal("timed out waiting for batch completion")
		}
	}
}

func TestIndexParseBatchEmitsPerFileEvents(t *testing.T) {
	dir := t.TempDir()
	good := writeScanFile(t, dir, "good.sxm", 1, 2)
	bad := filepath.Join(dir, "bad.sxm")
	require.NoError(t, os.WriteFile(bad, []byte("not a frame\n"), 0o644))

	r, index, _ := newTestRunner(t)
	require.NoError(t, index.Open(dir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	token, err := r.SubmitIndexParse([]string{bad, good})
	require.NoError(t, err)

	got := collectBatch(t, r, token)
	require.Len(t, got, 3)

	require.Equal(t, events.TypeBatchError, got[0].Type)
	assert.Equal(t, bad, got[0].BatchError.Path)
	assert.Equal(t, "malformed_header", got[0].BatchError.Kind)

	require.Equal(t, events.TypeFrameReady, got[1].Type)
	assert.Equal(t, good, got[1].FrameReady.Path)
	require.NotNil(t, got[1].FrameReady.Meta)
	assert.Equal(t, 2, got[1].FrameReady.Meta.Cols)

	done := got[2].BatchDone
	require.NotNil(t, done)
	assert.False(t, done.Cancelled)
	assert.Equal(t, 2, done.Stats.Submitted)
	assert.Equal(t, 1, done.Stats.Succeeded)
	assert.Equal(t, 1, done.Stats.Failed)
	assert.Equal(t, 0, done.Stats.Skipped)
}

func TestMatrixFitBatchEmitsFitReadyPerCell(t *testing.T) {
	dir := t.TempDir()
	grid := writeGridFile(t, dir, "grid.dat", 2, 2)

	r, _, metrics := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	token, err := r.SubmitMatrixFit([]string{grid}, "Current")
	require.NoError(t, err)

	got := collectBatch(t, r, token)
	require.Len(t, got, 5)

	seen := make(map[[2]int]bool)
	for _, ev := range got[:4] {
		require.Equal(t, events.TypeFitReady, ev.Type)
		seen[[2]int{ev.FitReady.Row, ev.FitReady.Col}] = true
	}
	assert.Len(t, seen, 4)

	done := got[4].BatchDone
	require.NotNil(t, done)
	assert.False(t, done.Cancelled)
	assert.Equal(t, 4, done.Stats.Submitted)
	assert.Equal(t, 4, done.Stats.Succeeded)
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.FitsTotal))
}

func TestMatrixFitBatchReportsLoadFailure(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	missing := filepath.Join(t.TempDir(), "absent.dat")
	token, err := r.SubmitMatrixFit([]string{missing}, "Current")
	require.NoError(t, err)

	got := collectBatch(t, r, token)
	require.Len(t, got, 2)

	require.Equal(t, events.TypeBatchError, got[0].Type)
	assert.Equal(t, missing, got[0].BatchError.Path)
	assert.Equal(t, "file_vanished", got[0].BatchError.Kind)

	done := got[1].BatchDone
	require.NotNil(t, done)
	assert.False(t, done.Cancelled)
	assert.Equal(t, 1, done.Stats.Failed)
}

func TestRefreshBatchReparsesChangedPaths(t *testing.T) {
	dir := t.TempDir()
	changed := writeScanFile(t, dir, "changed.sxm", 1, 2)
	gone := writeScanFile(t, dir, "gone.sxm", 3, 4)

	r, index, _ := newTestRunner(t)
	require.NoError(t, index.Open(dir))
	_, err := index.GetFrame(changed)
	require.NoError(t, err)

	writeScanFile(t, dir, "changed.sxm", 5, 6)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(changed, future, future))
	require.NoError(t, os.Remove(gone))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	token, err := r.SubmitRefresh()
	require.NoError(t, err)

	got := collectBatch(t, r, token)
	require.Len(t, got, 3)

	byPath := make(map[string]events.Event)
	for _, ev := range got[:2] {
		switch ev.Type {
		case events.TypeFrameReady:
			byPath[ev.FrameReady.Path] = ev
		case events.TypeBatchError:
			byPath[ev.BatchError.Path] = ev
		}
	}

	require.Contains(t, byPath, changed)
	assert.Equal(t, events.TypeFrameReady, byPath[changed].Type)

	require.Contains(t, byPath, gone)
	assert.Equal(t, events.TypeBatchError, byPath[gone].Type)
	assert.Equal(t, "file_vanished", byPath[gone].BatchError.Kind)

	done := got[2].BatchDone
	require.NotNil(t, done)
	assert.Equal(t, 2, done.Stats.Submitted)
	assert.Equal(t, 1, done.Stats.Succeeded)
	assert.Equal(t, 1, done.Stats.Failed)
}

func TestCancelBeforeStartSkipsTheBatch(t *testing.T) {
	dir := t.TempDir()
	path := writeScanFile(t, dir, "frame.sxm", 1, 2)

	r, index, metrics := newTestRunner(t)
	require.NoError(t, index.Open(dir))

	token, err := r.SubmitIndexParse([]string{path})
	require.NoError(t, err)
	require.NoError(t, r.Cancel(token))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	got := collectBatch(t, r, token)
	require.Len(t, got, 1)

	done := got[0].BatchDone
	require.NotNil(t, done)
	assert.True(t, done.Cancelled)
	assert.Equal(t, 0, done.Stats.Succeeded)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BatchCancelled))
}

func TestCancelUnknownToken(t *testing.T) {
	r, _, _ := newTestRunner(t)
	err := r.Cancel("no-such-token")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestSubmitMatrixFitValidatesArguments(t *testing.T) {
	r, _, _ := newTestRunner(t)

	_, err := r.SubmitMatrixFit(nil, "Current")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = r.SubmitMatrixFit([]string{"grid.dat"}, "")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestStopClosesEventsChannel(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	require.NoError(t, r.Stop(2*time.Second))

	select {
	case _, open := <-r.Events():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after stop")
	}
}

func TestBatchTokensAreUnique(t *testing.T) {
	r, _, _ := newTestRunner(t)

	first, err := r.SubmitRefresh()
	require.NoError(t, err)
	second, err := r.SubmitRefresh()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestMatrixFitResultRetainsMaps(t *testing.T) {
	dir := t.TempDir()
	grid := writeGridFile(t, dir, "grid.dat", 2, 2)

	r, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	token, err := r.SubmitMatrixFit([]string{grid}, "Current")
	require.NoError(t, err)
	collectBatch(t, r, token)

	res, ok := r.Result(token)
	require.True(t, ok, "result must be present once BatchDone was observed")
	assert.Equal(t, "matrix_fit", res.Kind)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 4, res.Stats.Succeeded)
	require.NotNil(t, res.Maps)
	assert.Equal(t, 2, res.Maps.Rows)
	assert.Equal(t, 2, res.Maps.Cols)
	assert.Equal(t, 4, res.Maps.Fitted)

	r.DiscardResult(token)
	_, ok = r.Result(token)
	assert.False(t, ok)
}

func TestRefreshResultRetainsChangedPaths(t *testing.T) {
	dir := t.TempDir()
	changed := writeScanFile(t, dir, "changed.sxm", 1, 2)

	r, index, _ := newTestRunner(t)
	require.NoError(t, index.Open(dir))
	_, err := index.GetFrame(changed)
	require.NoError(t, err)

	writeScanFile(t, dir, "changed.sxm", 5, 6)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(changed, future, future))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop(2 * time.Second)

	token, err := r.SubmitRefresh()
	require.NoError(t, err)
	collectBatch(t, r, token)

	res, ok := r.Result(token)
	require.True(t, ok)
	assert.Equal(t, "refresh", res.Kind)
	assert.Equal(t, []string{changed}, res.Changed)
}

func TestResultUnknownToken(t *testing.T) {
	r, _, _ := newTestRunner(t)

	_, ok := r.Result("no-such-token")
	assert.False(t, ok)
}
