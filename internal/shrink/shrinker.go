// Package shrink is the multi-objective search over the corpus: it tracks
// the smallest known input per behavior label and drives reduction passes
// against each until no pass has anything left to try.
package shrink

import (
	"bytes"
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"shrinkfuzz/internal/corpus"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/types"
	"shrinkfuzz/pkg/telemetry"
)

// Classifier turns a candidate input into a behavior signature. The process
// harness implements it; tests substitute in-memory oracles.
type Classifier interface {
	Classify(ctx context.Context, input []byte) (types.Signature, error)
}

type candidate struct {
	data []byte
	fp   string
}

// better orders candidates: shorter wins, byte order breaks length ties so
// exemplar selection is deterministic.
func better(a, b candidate) bool {
	if len(a.data) != len(b.data) {
		return len(a.data) < len(b.data)
	}
	return bytes.Compare(a.data, b.data) < 0
}

// Shrinker holds the exemplar table and the search bookkeeping. It is
// single-worker: exactly one classification is in flight at any time, so no
// locking is needed.
type Shrinker struct {
	classifier Classifier
	sink       corpus.Sink
	cache      *fingerprint.Cache
	tracer     trace.Tracer
	logger     *zap.Logger
	passes     []Pass

	best       map[string]candidate           // label -> current exemplar
	held       map[string]map[string]struct{} // fingerprint -> labels it is best for
	candidates map[string]candidate           // fingerprint -> retained candidate
	applied    map[string]int                 // fingerprint -> bitmask of passes already run

	feed chan []byte
}

func New(classifier Classifier, sink corpus.Sink, cache *fingerprint.Cache, telem telemetry.Telemetry, logger *zap.Logger) *Shrinker {
	return &Shrinker{
		classifier: classifier,
		sink:       sink,
		cache:      cache,
		tracer:     telem.Tracer(),
		logger:     logger.Named("shrink"),
		passes:     DefaultPasses(),
		best:       make(map[string]candidate),
		held:       make(map[string]map[string]struct{}),
		candidates: make(map[string]candidate),
		applied:    make(map[string]int),
		feed:       make(chan []byte, 64),
	}
}

// Feed returns the channel through which externally discovered candidates
// (e.g. files dropped into the incoming directory) reach the engine. The
// engine drains it between reduction attempts.
func (s *Shrinker) Feed() chan<- []byte {
	return s.feed
}

// Seen reports whether input has already been classified.
func (s *Shrinker) Seen(ctx context.Context, input []byte) bool {
	_, ok := s.cache.Lookup(ctx, fingerprint.Digest(input))
	return ok
}

// Best returns the current exemplar for label, if any.
func (s *Shrinker) Best(label string) ([]byte, bool) {
	cand, ok := s.best[label]
	return cand.data, ok
}

// Labels returns the currently tracked labels in sorted order.
func (s *Shrinker) Labels() []string {
	labels := make([]string, 0, len(s.best))
	for label := range s.best {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Classify classifies input and records the outcome: already-seen inputs
// return their cached signature without a process invocation, discard
// outcomes leave the table untouched, and improving outcomes are installed
// as new exemplars after a stability re-check.
func (s *Shrinker) Classify(ctx context.Context, input []byte) (types.Signature, error) {
	fp := fingerprint.Digest(input)
	if sig, ok := s.cache.Lookup(ctx, fp); ok {
		return sig, nil
	}

	sig, err := s.classifier.Classify(ctx, input)
	if err != nil {
		return nil, err
	}

	// A signature only becomes authoritative for a table change after a
	// confirming run. An input that classifies differently twice is
	// permanently excluded: remembered as a discard, reported, never
	// installed, never retried.
	if !sig.IsDiscard() && s.wouldImprove(input, sig) {
		confirm, err := s.classifier.Classify(ctx, input)
		if err != nil {
			return nil, err
		}
		if !confirm.Equal(sig) {
			s.cache.Remember(ctx, fp, types.Discard)
			s.sink.Unstable(input)
			s.logger.Warn("unstable input excluded",
				zap.String("fingerprint", fp),
				zap.String("first", sig.Key()),
				zap.String("second", confirm.Key()))
			return types.Discard, nil
		}
	}

	s.cache.Remember(ctx, fp, sig)
	if sig.IsDiscard() {
		return sig, nil
	}

	s.install(candidate{data: input, fp: fp}, sig)
	return sig, nil
}

// wouldImprove reports whether installing input for sig would change the
// exemplar table.
func (s *Shrinker) wouldImprove(input []byte, sig types.Signature) bool {
	cand := candidate{data: input}
	for _, label := range sig {
		cur, ok := s.best[label]
		if !ok || better(cand, cur) {
			return true
		}
	}
	return false
}

// install makes cand the exemplar for every label of sig it wins, emitting
// Added/BestChanged/Removed notifications in that order so the sink always
// links exemplars against an existing seed file.
func (s *Shrinker) install(cand candidate, sig types.Signature) {
	var won []string
	for _, label := range sig {
		cur, ok := s.best[label]
		if !ok || better(cand, cur) {
			won = append(won, label)
		}
	}
	if len(won) == 0 {
		// Valid observation of a known behavior, but not better: dropped.
		return
	}

	if _, retained := s.held[cand.fp]; !retained {
		s.held[cand.fp] = make(map[string]struct{})
		s.candidates[cand.fp] = cand
		s.sink.Added(cand.data)
	}

	displaced := make(map[string]struct{})
	for _, label := range won {
		if prev, ok := s.best[label]; ok && prev.fp != cand.fp {
			delete(s.held[prev.fp], label)
			displaced[prev.fp] = struct{}{}
		}
		s.best[label] = cand
		s.held[cand.fp][label] = struct{}{}
	}

	s.sink.BestChanged(won, cand.data)

	for fp := range displaced {
		if len(s.held[fp]) > 0 {
			continue
		}
		prev := s.candidates[fp]
		delete(s.held, fp)
		delete(s.candidates, fp)
		delete(s.applied, fp)
		s.sink.Removed(prev.data)
	}

	s.logger.Info("exemplar improved",
		zap.Strings("labels", won),
		zap.Int("size", len(cand.data)),
		zap.String("fingerprint", cand.fp))
}

// Run drives the shrink loop: a deterministic round-robin over tracked
// labels in sorted order, passes in declaration order, skipping
// (exemplar, pass) pairs already tried. It returns when a full sweep finds
// nothing left to attempt (a simultaneous local fixpoint across all
// behaviors), when ctx is cancelled, or on a classification error.
func (s *Shrinker) Run(ctx context.Context) error {
	for {
		if err := s.drainFeed(ctx); err != nil {
			return err
		}
		attempted, err := s.sweep(ctx)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !attempted {
			s.logger.Info("shrink frontier is locally minimal",
				zap.Strings("labels", s.Labels()),
				zap.Int("classified", s.cache.Len()))
			return nil
		}
	}
}

func (s *Shrinker) sweep(ctx context.Context) (bool, error) {
	attempted := false
	for _, label := range s.Labels() {
		for {
			if err := ctx.Err(); err != nil {
				return attempted, err
			}
			cand, ok := s.best[label]
			if !ok {
				break
			}
			pi := s.nextPass(cand.fp)
			if pi < 0 {
				break
			}
			attempted = true
			if err := s.applyPass(ctx, label, cand, pi); err != nil {
				return attempted, err
			}
			if err := s.drainFeed(ctx); err != nil {
				return attempted, err
			}
		}
	}
	return attempted, nil
}

func (s *Shrinker) nextPass(fp string) int {
	mask := s.applied[fp]
	for i := range s.passes {
		if mask&(1<<i) == 0 {
			return i
		}
	}
	return -1
}

func (s *Shrinker) applyPass(ctx context.Context, label string, cand candidate, pi int) error {
	pass := s.passes[pi]
	ctx, span := s.tracer.Start(ctx, "shrink pass", trace.WithAttributes(
		attribute.String("shrink.pass", pass.Name()),
		attribute.String("shrink.label", label),
		attribute.Int("shrink.input_size", len(cand.data)),
	))
	defer span.End()

	before := s.best[label]
	s.logger.Debug("applying pass",
		zap.String("pass", pass.Name()),
		zap.String("label", label),
		zap.Int("size", len(cand.data)))

	var classifyErr error
	pass.Apply(cand.data, func(variant []byte) bool {
		if ctx.Err() != nil {
			return false
		}
		if _, err := s.Classify(ctx, variant); err != nil {
			classifyErr = err
			return false
		}
		return true
	})
	s.applied[cand.fp] |= 1 << pi
	if classifyErr != nil {
		return classifyErr
	}

	if after := s.best[label]; after.fp != before.fp {
		s.logger.Debug("pass made progress",
			zap.String("pass", pass.Name()),
			zap.String("label", label),
			zap.Int("from", len(before.data)),
			zap.Int("to", len(after.data)))
	}
	return nil
}

func (s *Shrinker) drainFeed(ctx context.Context) error {
	for {
		select {
		case data, ok := <-s.feed:
			if !ok {
				return nil
			}
			if _, err := s.Classify(ctx, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
