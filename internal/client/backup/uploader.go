// Package backup uploads JSON snapshots of a local store document to object
// storage through server-issued presigned URLs.
package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/netx"
)

// Presigner issues an upload URL for one snapshot object.
type Presigner interface {
	PresignSnapshot(ctx context.Context) (key, url string, err error)
}

type Uploader struct {
	presigner Presigner
	upload    func(ctx context.Context, url, contentType string, body []byte) error
}

func NewUploader(p Presigner) *Uploader {
	return &Uploader{presigner: p, upload: netx.UploadToPresignedURL}
}

// Upload stores doc and returns the object key it was written under.
func (u *Uploader) Upload(ctx context.Context, doc *store.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("backup: nil document")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key, url, err := u.presigner.PresignSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("presign snapshot: %w", err)
	}
	if err := u.upload(ctx, url, "application/json", body); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}
