// Package harness is the classification oracle: it runs the target once per
// candidate input and reduces the outcome to a behavior signature.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"shrinkfuzz/config"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/types"
)

// ErrTooManyTimeouts trips after the consecutive-timeout circuit breaker:
// this many timeouts in a row means the harness setup is broken, not that
// the target is slow.
var ErrTooManyTimeouts = errors.New("too many consecutive timeouts, the harness is probably broken")

const defaultBreakerLimit = 50

// Recorder receives the harness's side-channel outputs: discarded inputs and
// captured output artifacts.
type Recorder interface {
	RecordCrash(data []byte)
	RecordTimeout(data []byte)
	SaveArtifact(digest, srcPath string)
}

type multiRecorder struct {
	recorders []Recorder
}

// MultiRecorder composes recorders into one.
func MultiRecorder(recorders ...Recorder) Recorder {
	return &multiRecorder{recorders: recorders}
}

func (m *multiRecorder) RecordCrash(data []byte) {
	for _, r := range m.recorders {
		r.RecordCrash(data)
	}
}

func (m *multiRecorder) RecordTimeout(data []byte) {
	for _, r := range m.recorders {
		r.RecordTimeout(data)
	}
}

func (m *multiRecorder) SaveArtifact(digest, srcPath string) {
	for _, r := range m.recorders {
		r.SaveArtifact(digest, srcPath)
	}
}

// Harness owns the target process lifecycle. It performs no deduplication;
// callers must consult the seen cache first. All mutable state (the verbose
// flag, the timeout counter) is scoped to one instance, so runs and tests
// re-initialize cleanly.
type Harness struct {
	command    string
	inputPath  string
	outputPath string
	timeout    time.Duration
	hashSize   int
	recorder   Recorder
	logger     *zap.Logger

	firstRun            bool
	consecutiveTimeouts int
	breakerLimit        int
}

func New(cfg *config.AppConfig, recorder Recorder, logger *zap.Logger) *Harness {
	return &Harness{
		command:      cfg.Command,
		inputPath:    cfg.InputPath,
		outputPath:   cfg.OutputPath,
		timeout:      cfg.Timeout,
		hashSize:     cfg.HashSize,
		recorder:     recorder,
		logger:       logger.Named("harness"),
		firstRun:     true,
		breakerLimit: defaultBreakerLimit,
	}
}

// Classify runs the target once against input and returns its behavior
// signature. Crashes and timeouts yield the discard sentinel and are
// recorded into their buckets. The very first invocation shows the target's
// stdio to the operator; later ones are silenced.
func (h *Harness) Classify(ctx context.Context, input []byte) (types.Signature, error) {
	if err := os.Remove(h.outputPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale output: %w", err)
	}
	if err := os.WriteFile(h.inputPath, input, 0644); err != nil {
		return nil, fmt.Errorf("failed to write target input: %w", err)
	}

	verbose := h.firstRun
	h.firstRun = false

	g, err := startGroup(h.command, verbose)
	if err != nil {
		return nil, err
	}
	outcome, err := g.wait(ctx, h.timeout)
	if err != nil {
		return nil, err
	}

	if outcome.timedOut {
		h.recorder.RecordTimeout(input)
		h.consecutiveTimeouts++
		h.logger.Warn("target timed out",
			zap.Int("size", len(input)),
			zap.Int("consecutive", h.consecutiveTimeouts))
		if h.consecutiveTimeouts > h.breakerLimit {
			return nil, ErrTooManyTimeouts
		}
		return types.Discard, nil
	}
	h.consecutiveTimeouts = 0

	if outcome.signaled || outcome.exitCode > 127 {
		h.recorder.RecordCrash(input)
		h.logger.Info("target crashed",
			zap.Int("exit_code", outcome.exitCode),
			zap.Int("size", len(input)))
		return types.Discard, nil
	}

	labels := []string{types.ReturnLabel(outcome.exitCode), h.outputLabel()}
	sig := types.NewSignature(labels...)
	h.logger.Debug("classified input",
		zap.Int("size", len(input)),
		zap.String("signature", sig.Key()))
	return sig, nil
}

// outputLabel digests the target's output artifact if one was produced, and
// files it into the gallery. Absence of output is a valid label value.
func (h *Harness) outputLabel() string {
	data, err := os.ReadFile(h.outputPath)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Error("failed to read target output", zap.Error(err))
		}
		return types.OutputLabel("")
	}
	digest := fingerprint.DigestN(data, h.hashSize)
	h.recorder.SaveArtifact(digest, h.outputPath)
	return types.OutputLabel(digest)
}
