package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// UploadTarget is a write-capable location handed to a client or worker. The
// caller sends the object bytes to URL with Method and afterwards refers to
// the object by StorageId.
type UploadTarget struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	StorageId string `json:"storageId"`
}

type Provider interface {
	UploadURL(ctx context.Context) (UploadTarget, error)

	// DownloadURL returns ErrObjectNotFound if nothing is stored under the id.
	DownloadURL(ctx context.Context, storageId string) (string, error)

	PutObject(ctx context.Context, storageId string, data io.Reader) error

	GetObject(ctx context.Context, storageId string) (io.ReadCloser, error)
}
