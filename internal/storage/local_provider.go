package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectSigner mints the token carried by local object URLs.
type ObjectSigner interface {
	SignObject(storageId, method string, ttl time.Duration) (string, error)
}

// LocalProvider keeps objects in a directory and hands out URLs pointing at the
// API's own /storage/objects routes. Meant for local mode and tests.
type LocalProvider struct {
	dir     string
	baseURL string
	signer  ObjectSigner
	urlTTL  time.Duration
}

var _ Provider = (*LocalProvider)(nil)

func NewLocalProvider(dir, baseURL string, signer ObjectSigner, urlTTL time.Duration) (*LocalProvider, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}
	if err := os.MkdirAll(absDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", absDir, err)
	}

	return &LocalProvider{
		dir:     absDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		urlTTL:  urlTTL,
	}, nil
}

func ValidStorageId(storageId string) bool {
	return storageId != "" && storageId == filepath.Base(storageId) && !strings.HasPrefix(storageId, ".")
}

func (p *LocalProvider) path(storageId string) (string, error) {
	if !ValidStorageId(storageId) {
		return "", fmt.Errorf("%w: invalid storage id %q", ErrObjectNotFound, storageId)
	}
	return filepath.Join(p.dir, storageId), nil
}

func (p *LocalProvider) signedURL(storageId, method string) (string, error) {
	token, err := p.signer.SignObject(storageId, method, p.urlTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s url for %s: %w", method, storageId, err)
	}
	return fmt.Sprintf("%s/storage/objects/%s?token=%s", p.baseURL, url.PathEscape(storageId), url.QueryEscape(token)), nil
}

func (p *LocalProvider) UploadURL(ctx context.Context) (UploadTarget, error) {
	storageId := uuid.NewString()
	u, err := p.signedURL(storageId, http.MethodPut)
	if err != nil {
		return UploadTarget{}, err
	}
	return UploadTarget{URL: u, Method: http.MethodPut, StorageId: storageId}, nil
}

func (p *LocalProvider) DownloadURL(ctx context.Context, storageId string) (string, error) {
	path, err := p.path(storageId)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, storageId)
		}
		return "", fmt.Errorf("failed to stat object %s: %w", storageId, err)
	}
	return p.signedURL(storageId, http.MethodGet)
}

func (p *LocalProvider) PutObject(ctx context.Context, storageId string, data io.Reader) error {
	path, err := p.path(storageId)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(p.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", storageId, err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object %s: %w", storageId, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write object %s: %w", storageId, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store object %s: %w", storageId, err)
	}
	return nil
}

func (p *LocalProvider) GetObject(ctx context.Context, storageId string) (io.ReadCloser, error) {
	path, err := p.path(storageId)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, storageId)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", storageId, err)
	}
	return file, nil
}
