package database

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shrinkfuzz/internal/fingerprint"
)

// Recorder writes run findings to the database. With no connection it
// swallows everything, so it can always be composed into the harness
// recorder and the corpus sink.
type Recorder struct {
	db      *gorm.DB
	command string
	logger  *zap.Logger
}

// Enabled reports whether a database connection is configured.
func (r *Recorder) Enabled() bool {
	return r.db != nil
}

func (r *Recorder) RecordCrash(data []byte) {
	if r.db == nil {
		return
	}
	row := &Crash{
		CreatedAt:   time.Now(),
		Command:     r.command,
		Fingerprint: fingerprint.Digest(data),
		Size:        len(data),
	}
	if err := r.db.Create(row).Error; err != nil {
		r.logger.Error("failed to record crash", zap.Error(err))
	}
}

func (r *Recorder) RecordTimeout(data []byte) {
	if r.db == nil {
		return
	}
	row := &Timeout{
		CreatedAt:   time.Now(),
		Command:     r.command,
		Fingerprint: fingerprint.Digest(data),
		Size:        len(data),
	}
	if err := r.db.Create(row).Error; err != nil {
		r.logger.Error("failed to record timeout", zap.Error(err))
	}
}

// SaveArtifact satisfies the harness recorder; artifacts live only in the
// gallery on disk.
func (r *Recorder) SaveArtifact(digest, srcPath string) {}

// Added and Removed satisfy the corpus sink; only improvements are worth a
// row.
func (r *Recorder) Added(data []byte)   {}
func (r *Recorder) Removed(data []byte) {}

func (r *Recorder) BestChanged(labels []string, data []byte) {
	if r.db == nil {
		return
	}
	fp := fingerprint.Digest(data)
	rows := make([]*Exemplar, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, &Exemplar{
			CreatedAt:   time.Now(),
			Command:     r.command,
			Label:       label,
			Fingerprint: fp,
			Size:        len(data),
		})
	}
	if err := r.db.Create(rows).Error; err != nil {
		r.logger.Error("failed to record exemplar improvement", zap.Error(err))
	}
}

func (r *Recorder) Unstable(data []byte) {}
