// Package storage moves media in and out of the service: fetching listing
// photos and provider outputs by URL, and publishing finished clips to an
// object store.
package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Uploader publishes an object and returns a durable public URL.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// ClipPath is the object key for a generated clip. It is stable per clip so
// a regeneration replaces the previous file.
func ClipPath(workspaceID, projectID, clipID uuid.UUID) string {
	return fmt.Sprintf("%s/videos/%s/%s.mp4", workspaceID, projectID, clipID)
}
