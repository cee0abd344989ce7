package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shrinkfuzz/config"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/types"
)

type memRecorder struct {
	crashes   [][]byte
	timeouts  [][]byte
	artifacts []string
}

func (r *memRecorder) RecordCrash(data []byte) {
	r.crashes = append(r.crashes, append([]byte(nil), data...))
}

func (r *memRecorder) RecordTimeout(data []byte) {
	r.timeouts = append(r.timeouts, append([]byte(nil), data...))
}

func (r *memRecorder) SaveArtifact(digest, _ string) {
	r.artifacts = append(r.artifacts, digest)
}

func newTestHarness(t *testing.T, command string, timeout time.Duration) (*Harness, *memRecorder) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		Command:    command,
		InputPath:  filepath.Join(dir, "input.bin"),
		OutputPath: filepath.Join(dir, "output.bin"),
		Timeout:    timeout,
		HashSize:   8,
	}
	rec := &memRecorder{}
	return New(cfg, rec, zap.NewNop()), rec
}

func TestClassifyExitStatusNoOutput(t *testing.T) {
	h, rec := newTestHarness(t, "exit 7", 5*time.Second)

	sig, err := h.Classify(context.Background(), []byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, types.NewSignature("return-7", "output-none"), sig)
	assert.Empty(t, rec.crashes)
	assert.Empty(t, rec.timeouts)
}

func TestClassifyOutputDigested(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bin")
	output := filepath.Join(dir, "output.bin")
	cfg := &config.AppConfig{
		Command:    fmt.Sprintf("cat %s > %s", input, output),
		InputPath:  input,
		OutputPath: output,
		Timeout:    5 * time.Second,
		HashSize:   8,
	}
	rec := &memRecorder{}
	h := New(cfg, rec, zap.NewNop())

	body := []byte("payload")
	sig, err := h.Classify(context.Background(), body)
	require.NoError(t, err)

	digest := fingerprint.DigestN(body, 8)
	assert.Equal(t, types.NewSignature("return-0", types.OutputLabel(digest)), sig)
	assert.Equal(t, []string{digest}, rec.artifacts)
}

func TestClassifyRemovesStaleOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bin")
	output := filepath.Join(dir, "output.bin")
	cfg := &config.AppConfig{
		// writes output only for non-empty input
		Command:    fmt.Sprintf("test -s %s && cat %s > %s || true", input, input, output),
		InputPath:  input,
		OutputPath: output,
		Timeout:    5 * time.Second,
		HashSize:   8,
	}
	h := New(cfg, &memRecorder{}, zap.NewNop())
	ctx := context.Background()

	sig, err := h.Classify(ctx, []byte("data"))
	require.NoError(t, err)
	require.NotContains(t, sig, "output-none")

	// the previous run's artifact must not leak into this classification
	sig, err = h.Classify(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, sig, "output-none")
}

func TestClassifySignalIsCrash(t *testing.T) {
	h, rec := newTestHarness(t, "kill -SEGV $$", 5*time.Second)

	sig, err := h.Classify(context.Background(), []byte("crashy"))
	require.NoError(t, err)
	assert.True(t, sig.IsDiscard())
	require.Len(t, rec.crashes, 1)
	assert.Equal(t, []byte("crashy"), rec.crashes[0])
}

func TestClassifyHighExitCodeIsCrash(t *testing.T) {
	h, rec := newTestHarness(t, "exit 200", 5*time.Second)

	sig, err := h.Classify(context.Background(), []byte("crashy"))
	require.NoError(t, err)
	assert.True(t, sig.IsDiscard())
	assert.Len(t, rec.crashes, 1)
}

func TestClassifyTimeout(t *testing.T) {
	h, rec := newTestHarness(t, "sleep 5", 50*time.Millisecond)

	sig, err := h.Classify(context.Background(), []byte("slow"))
	require.NoError(t, err)
	assert.True(t, sig.IsDiscard())
	require.Len(t, rec.timeouts, 1)
	assert.Equal(t, []byte("slow"), rec.timeouts[0])
}

func TestTimeoutBreakerTrips(t *testing.T) {
	h, _ := newTestHarness(t, "sleep 5", 50*time.Millisecond)
	h.breakerLimit = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sig, err := h.Classify(ctx, []byte{byte(i)})
		require.NoError(t, err)
		assert.True(t, sig.IsDiscard())
	}
	_, err := h.Classify(ctx, []byte{9})
	require.ErrorIs(t, err, ErrTooManyTimeouts)
}

func TestTimeoutBreakerResetsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bin")
	cfg := &config.AppConfig{
		// sleeps only for non-empty input
		Command:    fmt.Sprintf("test -s %s && sleep 5 || true", input),
		InputPath:  input,
		OutputPath: filepath.Join(dir, "output.bin"),
		Timeout:    50 * time.Millisecond,
		HashSize:   8,
	}
	h := New(cfg, &memRecorder{}, zap.NewNop())
	h.breakerLimit = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sig, err := h.Classify(ctx, []byte{byte(i)})
		require.NoError(t, err)
		assert.True(t, sig.IsDiscard())
	}

	sig, err := h.Classify(ctx, nil)
	require.NoError(t, err)
	assert.False(t, sig.IsDiscard())

	// the counter restarted: two more timeouts still stay under the limit
	for i := 10; i < 12; i++ {
		sig, err := h.Classify(ctx, []byte{byte(i)})
		require.NoError(t, err)
		assert.True(t, sig.IsDiscard())
	}
}
