package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type S3Provider struct {
	client    *s3.Client
	presigner *s3.PresignClient
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	urlTTL    time.Duration
}

var _ Provider = (*S3Provider)(nil)

func NewS3Provider(bucket, prefix string, cfg S3ClientConfig, urlTTL time.Duration) (*S3Provider, error) {
	client, err := initializeS3Client(cfg)
	if err != nil {
		return nil, err
	}

	return &S3Provider{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		prefix:    prefix,
		urlTTL:    urlTTL,
	}, nil
}

func (s *S3Provider) key(storageId string) string {
	if s.prefix == "" {
		return storageId
	}
	return path.Join(s.prefix, storageId)
}

func (s *S3Provider) CreateBucket(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var existErr *types.BucketAlreadyExists
		var ownedErr *types.BucketAlreadyOwnedByYou
		if errors.As(err, &existErr) || errors.As(err, &ownedErr) {
			slog.Info("bucket already exists", "bucket", s.bucket)
			return nil
		}

		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}

	slog.Info("bucket created successfully", "bucket", s.bucket)

	return nil
}

func (s *S3Provider) UploadURL(ctx context.Context) (UploadTarget, error) {
	storageId := uuid.NewString()

	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageId)),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return UploadTarget{}, fmt.Errorf("failed to presign upload for %s: %w", storageId, err)
	}

	return UploadTarget{URL: req.URL, Method: req.Method, StorageId: storageId}, nil
}

func (s *S3Provider) DownloadURL(ctx context.Context, storageId string) (string, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageId)),
	}); err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, storageId)
		}
		return "", fmt.Errorf("failed to check object %s: %w", storageId, err)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageId)),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", storageId, err)
	}

	return req.URL, nil
}

func (s *S3Provider) PutObject(ctx context.Context, storageId string, data io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageId)),
		Body:   data,
	})
	if err != nil {
		slog.Error("error uploading object", "bucket", s.bucket, "storage_id", storageId, "error", err)
		return fmt.Errorf("failed to upload object %s: %w", storageId, err)
	}
	return nil
}

func (s *S3Provider) GetObject(ctx context.Context, storageId string) (io.ReadCloser, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageId)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, storageId)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", storageId, err)
	}
	return res.Body, nil
}
