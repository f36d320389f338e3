package sink

import (
	"context"
	"fmt"

	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/ethpandaops/rttmon/pkg/upload"
	"github.com/sirupsen/logrus"
)

type s3Sink struct {
	log      logrus.FieldLogger
	uploader upload.Uploader
}

// Ensure interface compliance.
var _ Sink = (*s3Sink)(nil)

// NewS3Sink returns a Sink uploading the report JSON through uploader.
func NewS3Sink(log logrus.FieldLogger, uploader upload.Uploader) Sink {
	return &s3Sink{
		log:      log.WithField("component", "s3-sink"),
		uploader: uploader,
	}
}

// Name implements Sink.
func (s *s3Sink) Name() string {
	return "s3"
}

// Write implements Sink.
func (s *s3Sink) Write(ctx context.Context, r *report.Report, name string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}

	key, err := s.uploader.Put(ctx, name, data)
	if err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}

	s.log.WithField("key", key).Debug("Report uploaded")

	return nil
}
