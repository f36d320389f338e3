package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/ethpandaops/rttmon/pkg/upload"
)

// Compile-time interface check.
var _ Reader = (*s3Reader)(nil)

type s3Reader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Reader creates a Reader backed by S3-compatible storage. Reports are
// looked up below the same prefix the S3 sink uploads to.
func NewS3Reader(cfg *config.S3Config) Reader {
	return &s3Reader{
		client: upload.NewClient(cfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

// ListReports lists report objects directly below the prefix.
func (r *s3Reader) ListReports(ctx context.Context) ([]string, error) {
	prefix := upload.ResolveKey(r.prefix, "")

	paginator := s3.NewListObjectsV2Paginator(
		r.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(r.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		},
	)

	var names []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf(
				"listing reports under %q: %w", prefix, err,
			)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}

			if name := path.Base(*obj.Key); isReportName(name) {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// GetReport reads the report object from S3.
// Returns (nil, nil) when the key does not exist.
func (r *s3Reader) GetReport(ctx context.Context, name string) ([]byte, error) {
	if !isReportName(name) {
		return nil, fmt.Errorf("invalid report name %q", name)
	}

	key := upload.ResolveKey(r.prefix, name)

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

// Location returns the s3:// URL of the report.
func (r *s3Reader) Location(name string) string {
	return "s3://" + r.bucket + "/" + upload.ResolveKey(r.prefix, name)
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}
