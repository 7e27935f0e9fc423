package upload

import "context"

// Uploader publishes rendered run reports to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadReport stores a rendered report under
	// <prefix>/<run-id>/<name> and returns the object URI.
	UploadReport(ctx context.Context, runID, name string, body []byte) (string, error)

	// UploadFile uploads a local file under <prefix>/<run-id>/ using the
	// file's base name.
	UploadFile(ctx context.Context, runID, localPath string) (string, error)
}
