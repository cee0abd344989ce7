// Package corpus owns the on-disk corpus layout and the notification sinks
// that keep it in sync with the shrink engine. The engine itself never
// touches the filesystem.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shrinkfuzz/config"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/utils"
)

// Store is the durable corpus: bucket directories under one root, written
// whole-file so an interrupted run leaves at worst a stale exemplar link.
type Store struct {
	root       string
	inputBase  string
	outputBase string
	logger     *zap.Logger

	crashes   string
	timeouts  string
	unstable  string
	seeds     string
	exemplars string
	gallery   string
	incoming  string
}

func NewStore(cfg *config.AppConfig, logger *zap.Logger) (*Store, error) {
	s := &Store{
		root:       cfg.CorpusDir,
		inputBase:  filepath.Base(cfg.InputPath),
		outputBase: filepath.Base(cfg.OutputPath),
		logger:     logger.Named("corpus"),
	}
	s.crashes = filepath.Join(s.root, "crashes")
	s.timeouts = filepath.Join(s.root, "timeouts")
	s.unstable = filepath.Join(s.root, "unstable")
	s.seeds = filepath.Join(s.root, "seeds")
	s.exemplars = filepath.Join(s.root, "exemplars")
	s.gallery = filepath.Join(s.root, "gallery")
	s.incoming = filepath.Join(s.root, "incoming")

	for _, dir := range []string{s.crashes, s.timeouts, s.unstable, s.seeds, s.exemplars, s.gallery, s.incoming} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create corpus directory: %w", err)
		}
	}
	return s, nil
}

// IncomingDir is the drop directory watched for operator-injected candidates.
func (s *Store) IncomingDir() string {
	return s.incoming
}

// SeedPath returns where the seed copy of data lives (or would live).
func (s *Store) SeedPath(data []byte) string {
	return filepath.Join(s.seeds, fingerprint.Name(data, s.inputBase))
}

// SaveInitial preserves a pristine copy of the starting input at the corpus
// root, once.
func (s *Store) SaveInitial(data []byte) error {
	path := filepath.Join(s.root, "initial-"+s.inputBase)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return s.writeWhole(path, data)
}

// ListSeeds returns the paths of all persisted seed files.
func (s *Store) ListSeeds() ([]string, error) {
	entries, err := os.ReadDir(s.seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to read seeds directory: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(s.seeds, e.Name()))
	}
	return paths, nil
}

// RecordCrash persists a crashing input into the crashes bucket.
func (s *Store) RecordCrash(data []byte) {
	s.recordIn(s.crashes, data, "crash")
}

// RecordTimeout persists a timed-out input into the timeouts bucket.
func (s *Store) RecordTimeout(data []byte) {
	s.recordIn(s.timeouts, data, "timeout")
}

// SaveArtifact copies the target's output file into the content-addressed
// gallery under its digest.
func (s *Store) SaveArtifact(digest, srcPath string) {
	dst := filepath.Join(s.gallery, digest+"-"+s.outputBase)
	if _, err := os.Stat(dst); err == nil {
		return
	}
	if err := utils.CopyFile(srcPath, dst); err != nil {
		s.logger.Error("failed to save output artifact", zap.String("digest", digest), zap.Error(err))
	}
}

// Added persists a newly retained candidate into the seeds bucket.
func (s *Store) Added(data []byte) {
	if err := s.writeWhole(s.SeedPath(data), data); err != nil {
		s.logger.Error("failed to persist seed", zap.Error(err))
	}
}

// Removed deletes the seed copy of a candidate that is best for nothing.
func (s *Store) Removed(data []byte) {
	if err := os.Remove(s.SeedPath(data)); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove superseded seed", zap.Error(err))
	}
}

// BestChanged points the exemplar entry for each label at the candidate's
// seed file, hard-linking so the operator always sees the current minimal
// reproducer without re-running anything. Falls back to a copy when linking
// fails (e.g. the corpus spans filesystems).
func (s *Store) BestChanged(labels []string, data []byte) {
	src := s.SeedPath(data)
	for _, label := range labels {
		target := filepath.Join(s.exemplars, label+"-"+s.inputBase)
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			s.logger.Error("failed to unlink exemplar", zap.String("label", label), zap.Error(err))
			continue
		}
		if err := os.Link(src, target); err != nil {
			if copyErr := utils.CopyFile(src, target); copyErr != nil {
				s.logger.Error("failed to update exemplar", zap.String("label", label), zap.Error(copyErr))
			}
		}
	}
}

// Unstable persists an input whose behavior was observed to flap.
func (s *Store) Unstable(data []byte) {
	s.recordIn(s.unstable, data, "unstable")
}

func (s *Store) recordIn(dir string, data []byte, kind string) {
	path := filepath.Join(dir, fingerprint.Name(data, s.inputBase))
	if err := s.writeWhole(path, data); err != nil {
		s.logger.Error("failed to record input", zap.String("kind", kind), zap.Error(err))
	}
}

// writeWhole writes data to path via a uniquely named temp file and rename,
// so readers never observe a partial candidate.
func (s *Store) writeWhole(path string, data []byte) error {
	tmp := path + "." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write candidate file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize candidate file: %w", err)
	}
	return nil
}
