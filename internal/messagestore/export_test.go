package messagestore

import "testing"

// NewFakeS3Store returns an S3Store talking to an in-process S3 endpoint.
func NewFakeS3Store(t *testing.T, maxSize int64) *S3Store {
	t.Helper()
	f, client := newFakeS3(t)
	return f.store(client, "tgfs/", maxSize, newTickClock())
}
