package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrNotFound = errors.New("artifact: not found")

// Artifact describes one stored file.
type Artifact struct {
	Key         string
	Size        int64
	ContentType string
}

// Store abstracts where harvested artifacts live. The driver writes through
// it during harvest and the HTTP layer reads through it for downloads.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (Artifact, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// JobKey builds the canonical storage key for one artifact of a job.
func JobKey(jobID, filename string) string {
	return jobID + "/" + filename
}

// VideoFilename names the nth harvested video of a job, 1-based.
func VideoFilename(n int) string {
	return fmt.Sprintf("video-%02d.mp4", n)
}
