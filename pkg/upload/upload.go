package upload

import "context"

// Uploader uploads reports to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Put uploads data under name, below the configured remote prefix, and
	// returns the full object key.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// UploadFile uploads a local file. The file basename is used as the
	// object name below the configured remote prefix.
	UploadFile(ctx context.Context, localPath string) (string, error)
}
