package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the part of the S3 client used for mirroring.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// NewS3Client builds a client from static settings. A custom endpoint
// (MinIO and friends) switches to path-style addressing.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.Endpoint != "",
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "imgvault-config",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	return s3.New(opts)
}

// MirroredBackend copies every stored image to an S3 bucket. The local
// backend stays authoritative: mirror failures are logged and reported
// through onFailure but never fail the call.
type MirroredBackend struct {
	StorageBackend
	client    ObjectAPI
	bucket    string
	prefix    string
	onFailure func(op string)
}

func NewMirroredBackend(backend StorageBackend, client ObjectAPI, bucket, prefix string, onFailure func(op string)) *MirroredBackend {
	if onFailure == nil {
		onFailure = func(string) {}
	}
	return &MirroredBackend{
		StorageBackend: backend,
		client:         client,
		bucket:         bucket,
		prefix:         prefix,
		onFailure:      onFailure,
	}
}

func (m *MirroredBackend) Store(ctx context.Context, data []byte) (*ImageMetadata, error) {
	metadata, err := m.StorageBackend.Store(ctx, data)
	if err != nil {
		return nil, err
	}

	if _, putErr := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.key(metadata)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(metadata.Size),
		ContentType:   aws.String(metadata.ContentType),
		Metadata: map[string]string{
			"image-id": metadata.ImageID,
			"sha256":   metadata.SHA256,
		},
	}); putErr != nil {
		slog.Warn("Failed to mirror image", "image_id", metadata.ImageID, "bucket", m.bucket, "error", putErr)
		m.onFailure("put")
	}
	return metadata, nil
}

func (m *MirroredBackend) Remove(ctx context.Context, imageID string) error {
	metadata, lookupErr := m.StorageBackend.GetMetadata(imageID)
	if lookupErr != nil {
		return lookupErr
	}

	if err := m.StorageBackend.Remove(ctx, imageID); err != nil {
		return err
	}

	if _, delErr := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(metadata)),
	}); delErr != nil {
		slog.Warn("Failed to remove mirrored image", "image_id", imageID, "bucket", m.bucket, "error", delErr)
		m.onFailure("delete")
	}
	return nil
}

func (m *MirroredBackend) key(metadata *ImageMetadata) string {
	return fmt.Sprintf("%s%s", m.prefix, metadata.Filename)
}
