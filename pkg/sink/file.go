package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/rttmon/pkg/fsutil"
	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/sirupsen/logrus"
)

// markdownMaxChars bounds the markdown summary written next to the report.
const markdownMaxChars = 1024 * 1024

// FileConfig configures the local file sink.
type FileConfig struct {
	Dir      string
	Markdown bool

	// Owner, when set, is applied to the directory and written files.
	Owner *fsutil.Owner
}

type fileSink struct {
	log logrus.FieldLogger
	cfg FileConfig
}

// Ensure interface compliance.
var _ Sink = (*fileSink)(nil)

// NewFileSink returns a Sink writing reports below cfg.Dir.
func NewFileSink(log logrus.FieldLogger, cfg FileConfig) Sink {
	return &fileSink{
		log: log.WithField("component", "file-sink"),
		cfg: cfg,
	}
}

// Name implements Sink.
func (s *fileSink) Name() string {
	return "file"
}

// Path returns where the report named name is written.
func (s *fileSink) Path(name string) string {
	return filepath.Join(s.cfg.Dir, name)
}

// Write implements Sink.
func (s *fileSink) Write(_ context.Context, r *report.Report, name string) error {
	if err := fsutil.MkdirAll(s.cfg.Dir, 0o755, s.cfg.Owner); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	data, err := r.Marshal()
	if err != nil {
		return err
	}

	path := s.Path(name)
	if err := fsutil.WriteFileAtomic(path, data, 0o644, s.cfg.Owner); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	s.log.WithField("path", path).Info("Report written")

	if !s.cfg.Markdown {
		return nil
	}

	mdPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
	md := []byte(report.Markdown(r, markdownMaxChars))
	if err := fsutil.WriteFileAtomic(mdPath, md, 0o644, s.cfg.Owner); err != nil {
		return fmt.Errorf("writing markdown summary: %w", err)
	}

	s.log.WithField("path", mdPath).Debug("Markdown summary written")

	return nil
}
