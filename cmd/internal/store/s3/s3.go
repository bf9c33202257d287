package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStoreS3 implements the object store interface for S3
type ObjectStoreS3 struct {
	log    *slog.Logger
	c      *awss3.Client
	config *ObjectStoreConfigS3
}

// ObjectStoreConfigS3 provides configuration for the ObjectStoreS3
type ObjectStoreConfigS3 struct {
	// Profile names a shared credentials profile. Alternatively static
	// credentials can be given.
	Profile   string
	AccessKey string
	SecretKey string
	Region    string
	// Endpoint points the client at an S3-compatible store. Path-style
	// addressing is switched on together with it.
	Endpoint string
}

func (c *ObjectStoreConfigS3) validate() error {
	if c.Profile == "" && (c.AccessKey == "" || c.SecretKey == "") {
		return errors.New("s3 requires either a credentials profile or an access key and secret key")
	}

	return nil
}

// New returns an S3 object store
func New(ctx context.Context, log *slog.Logger, config *ObjectStoreConfigS3) (*ObjectStoreS3, error) {
	if config == nil {
		return nil, errors.New("s3 object store requires a config")
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(config.Profile))
	}
	if config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ObjectStoreS3{
		log:    log,
		c:      client,
		config: config,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (s *ObjectStoreS3) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.c.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("creating bucket %q: %w", bucket, err)
	}

	return nil
}

// ListObjects returns one page of object keys below the prefix along with the
// continuation token of the next page
func (s *ObjectStoreS3) ListObjects(ctx context.Context, bucket, prefix, token string) ([]string, string, error) {
	in := &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}

	out, err := s.c.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, "", fmt.Errorf("listing objects below %q: %w", prefix, err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, object := range out.Contents {
		keys = append(keys, aws.ToString(object.Key))
	}

	if aws.ToBool(out.IsTruncated) {
		return keys, aws.ToString(out.NextContinuationToken), nil
	}

	return keys, "", nil
}

// DeleteObjects removes the given keys in one batched delete request
func (s *ObjectStoreS3) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	out, err := s.c.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("deleting %d objects: %w", len(keys), err)
	}

	var errs []error
	for _, e := range out.Errors {
		errs = append(errs, fmt.Errorf("deleting object %q: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
	}

	return errors.Join(errs...)
}

// Upload stores the contents of r under the given key
func (s *ObjectStoreS3) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	s.log.Debug("uploading object", "bucket", bucket, "key", key)

	uploader := manager.NewUploader(s.c)
	_, err := uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading %q: %w", key, err)
	}

	return nil
}
