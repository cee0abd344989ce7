package shrink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"shrinkfuzz/internal/corpus"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/types"
	"shrinkfuzz/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClassifier struct {
	fn    func([]byte) types.Signature
	err   error
	total int
}

func (f *fakeClassifier) Classify(_ context.Context, input []byte) (types.Signature, error) {
	f.total++
	if f.err != nil {
		return nil, f.err
	}
	return f.fn(input), nil
}

type changeEvent struct {
	labels []string
	size   int
}

type memSink struct {
	mu       sync.Mutex
	added    []string
	removed  []string
	changed  []changeEvent
	unstable []string
}

func (m *memSink) Added(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, string(data))
}

func (m *memSink) Removed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, string(data))
}

func (m *memSink) BestChanged(labels []string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = append(m.changed, changeEvent{labels: append([]string(nil), labels...), size: len(data)})
}

func (m *memSink) Unstable(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unstable = append(m.unstable, string(data))
}

func newTestShrinker(cl Classifier, sink corpus.Sink) *Shrinker {
	cache := fingerprint.NewCache(nil, "test-target", zap.NewNop())
	return New(cl, sink, cache, telemetry.Noop(), zap.NewNop())
}

func constantLabel(label string) func([]byte) types.Signature {
	return func([]byte) types.Signature {
		return types.NewSignature(label)
	}
}

func TestClassifyCachesByFingerprint(t *testing.T) {
	cl := &fakeClassifier{fn: constantLabel("return-0")}
	s := newTestShrinker(cl, &memSink{})
	ctx := context.Background()

	sig, err := s.Classify(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, types.NewSignature("return-0"), sig)
	// an improving classification needs a confirming run
	assert.Equal(t, 2, cl.total)

	sig, err = s.Classify(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, types.NewSignature("return-0"), sig)
	assert.Equal(t, 2, cl.total, "cached input must not re-invoke the target")

	assert.True(t, s.Seen(ctx, []byte("hello")))
	assert.False(t, s.Seen(ctx, []byte("other")))
}

func TestDiscardIsNeverTracked(t *testing.T) {
	cl := &fakeClassifier{fn: func([]byte) types.Signature { return types.Discard }}
	sink := &memSink{}
	s := newTestShrinker(cl, sink)

	sig, err := s.Classify(context.Background(), []byte("boom"))
	require.NoError(t, err)
	assert.True(t, sig.IsDiscard())
	assert.Empty(t, s.Labels())
	assert.Empty(t, sink.added)
	assert.Equal(t, 1, cl.total, "discard outcomes need no confirming run")
}

func TestUnstableInputExcluded(t *testing.T) {
	flip := 0
	cl := &fakeClassifier{fn: func([]byte) types.Signature {
		flip++
		if flip%2 == 1 {
			return types.NewSignature("return-0")
		}
		return types.NewSignature("return-1")
	}}
	sink := &memSink{}
	s := newTestShrinker(cl, sink)
	ctx := context.Background()

	sig, err := s.Classify(ctx, []byte("flaky"))
	require.NoError(t, err)
	assert.True(t, sig.IsDiscard())
	assert.Equal(t, []string{"flaky"}, sink.unstable)
	assert.Empty(t, s.Labels())
	assert.Empty(t, sink.added)

	// exclusion is permanent: the cached discard short-circuits retries
	sig, err = s.Classify(ctx, []byte("flaky"))
	require.NoError(t, err)
	assert.True(t, sig.IsDiscard())
	assert.Equal(t, 2, cl.total)
}

func TestSmallerCandidateDisplacesBest(t *testing.T) {
	cl := &fakeClassifier{fn: constantLabel("return-0")}
	sink := &memSink{}
	s := newTestShrinker(cl, sink)
	ctx := context.Background()

	_, err := s.Classify(ctx, []byte("long input"))
	require.NoError(t, err)
	_, err = s.Classify(ctx, []byte("short"))
	require.NoError(t, err)

	best, ok := s.Best("return-0")
	require.True(t, ok)
	assert.Equal(t, []byte("short"), best)
	assert.Equal(t, []string{"long input", "short"}, sink.added)
	assert.Equal(t, []string{"long input"}, sink.removed, "displaced candidate best for nothing is dropped")
}

func TestEqualLengthTieBreaksOnByteOrder(t *testing.T) {
	cl := &fakeClassifier{fn: constantLabel("return-0")}
	sink := &memSink{}
	s := newTestShrinker(cl, sink)
	ctx := context.Background()

	_, err := s.Classify(ctx, []byte("ba"))
	require.NoError(t, err)
	_, err = s.Classify(ctx, []byte("ab"))
	require.NoError(t, err)
	_, err = s.Classify(ctx, []byte("zz"))
	require.NoError(t, err)

	best, ok := s.Best("return-0")
	require.True(t, ok)
	assert.Equal(t, []byte("ab"), best)
	assert.NotContains(t, sink.added, "zz", "a non-improving candidate is not retained")
}

// echoLike models a target that exits zero and reproduces its original
// input's output exactly once: only the untouched input yields the original
// artifact, every reduction yields no output.
func echoLike(original []byte) func([]byte) types.Signature {
	originalLabel := types.OutputLabel(fingerprint.Digest(original))
	orig := string(original)
	return func(input []byte) types.Signature {
		if string(input) == orig {
			return types.NewSignature(types.ReturnLabel(0), originalLabel)
		}
		return types.NewSignature(types.ReturnLabel(0), types.OutputLabel(""))
	}
}

func TestRunConvergesPerObjective(t *testing.T) {
	original := []byte("ABCDEFGH")
	cl := &fakeClassifier{fn: echoLike(original)}
	sink := &memSink{}
	s := newTestShrinker(cl, sink)
	ctx := context.Background()

	_, err := s.Classify(ctx, original)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	// exit-status objective shrinks all the way down
	best, ok := s.Best("return-0")
	require.True(t, ok)
	assert.Empty(t, best)

	best, ok = s.Best("output-none")
	require.True(t, ok)
	assert.Empty(t, best)

	// the original stays: nothing smaller reproduces its artifact
	best, ok = s.Best(types.OutputLabel(fingerprint.Digest(original)))
	require.True(t, ok)
	assert.Equal(t, original, best)

	assert.NotContains(t, sink.removed, string(original))

	// a second run has nothing left to attempt
	before := cl.total
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, before, cl.total)
}

func TestBestChangedSizesAreMonotonic(t *testing.T) {
	original := []byte("ABCDEFGH")
	cl := &fakeClassifier{fn: echoLike(original)}
	sink := &memSink{}
	s := newTestShrinker(cl, sink)
	ctx := context.Background()

	_, err := s.Classify(ctx, original)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	last := make(map[string]int)
	for _, ev := range sink.changed {
		for _, label := range ev.labels {
			if prev, ok := last[label]; ok {
				assert.LessOrEqual(t, ev.size, prev, "label %s regressed", label)
			}
			last[label] = ev.size
		}
	}
}

func TestRunDrainsFeed(t *testing.T) {
	cl := &fakeClassifier{fn: func(input []byte) types.Signature {
		if len(input) == 0 {
			return types.NewSignature("return-0", "output-none")
		}
		return types.NewSignature("return-0")
	}}
	s := newTestShrinker(cl, &memSink{})

	s.Feed() <- []byte("dropped")
	require.NoError(t, s.Run(context.Background()))

	best, ok := s.Best("return-0")
	require.True(t, ok)
	assert.Empty(t, best)
}

func TestRunPropagatesClassifierError(t *testing.T) {
	wantErr := errors.New("target unusable")
	cl := &fakeClassifier{err: wantErr}
	s := newTestShrinker(cl, &memSink{})

	s.Feed() <- []byte("anything")
	err := s.Run(context.Background())
	require.ErrorIs(t, err, wantErr)
}

func TestRunHonorsCancellation(t *testing.T) {
	cl := &fakeClassifier{fn: constantLabel("return-0")}
	s := newTestShrinker(cl, &memSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
