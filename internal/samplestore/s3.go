// Package samplestore fetches raw voice sample audio from object storage.
// Samples are keyed by sample ID; the pipeline only ever reads them.
package samplestore

import (
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"voicepassport/internal/platform/config"
	"voicepassport/pkg/domain"
	dErrors "voicepassport/pkg/domain-errors"
)

// S3Source reads samples from an S3-compatible bucket (MinIO in local
// deployments). The pipeline consumes sources through its SampleSource
// port; this package only provides implementations.
type S3Source struct {
	client *s3.Client
	bucket string
}

// NewS3 builds a source against the configured endpoint. A non-empty
// endpoint switches to path-style addressing, which MinIO requires.
func NewS3(ctx context.Context, cfg config.ObjectStore) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "object store bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})
	return &S3Source{client: client, bucket: cfg.Bucket}, nil
}

// Fetch returns the full audio payload for one sample. An unknown key is
// an input error; connectivity failures are transient.
func (s *S3Source) Fetch(ctx context.Context, id domain.SampleID) ([]byte, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sample id must not be empty")
	}

	key := string(id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput,
				fmt.Sprintf("sample %s not found in bucket %s", id, s.bucket))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "fetch sample from object store")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "read sample body")
	}
	return data, nil
}
