// Package blob removes message attachments from object storage when the
// reaper purges a group.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Gopher0727/Ephemera/config"
)

// maxDeleteBatch is the DeleteObjects per-request key limit.
const maxDeleteBatch = 1000

// Store deletes attachment objects by key.
type Store interface {
	Delete(ctx context.Context, keys []string) error
}

// deleteObjectsAPI is the slice of *s3.Client the store needs.
type deleteObjectsAPI interface {
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store deletes objects from one bucket of an S3 compatible service.
type S3Store struct {
	client deleteObjectsAPI
	bucket string
}

// NewS3Store builds a client with static credentials. BaseEndpoint points it
// at MinIO or another S3 compatible endpoint.
func NewS3Store(ctx context.Context, cfg *config.S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Delete removes keys in batches. Keys that are already gone count as deleted.
func (s *S3Store) Delete(ctx context.Context, keys []string) error {
	var errs []error
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete objects batch at %d: %w", start, err))
			continue
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("delete object %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}

// Nop is used when object storage is disabled.
type Nop struct{}

func (Nop) Delete(context.Context, []string) error { return nil }
