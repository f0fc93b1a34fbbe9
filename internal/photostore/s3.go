package photostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"camarc/internal/camarc"
	"camarc/internal/config"
)

// Environment variables holding static S3 credentials. When unset the
// default AWS credential chain is used.
const (
	envS3AccessKeyID     = "CAMARC_S3_ACCESS_KEY_ID"
	envS3SecretAccessKey = "CAMARC_S3_SECRET_ACCESS_KEY"
)

// s3API is the subset of *s3.Client used for reads and health checks.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// s3Uploader is the subset of *manager.Uploader used for writes.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps each photo as s3://<bucket>/<prefix>/<reference>.jpg.
type S3Store struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader s3Uploader
	idgen    camarc.IDGenerator
}

// NewS3Store builds a store from configuration using the default AWS config
// chain, optional static credentials, and an optional custom endpoint for
// S3-compatible services.
func NewS3Store(ctx context.Context, cfg config.PhotoStoreConfig, idgen camarc.IDGenerator) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 photo store requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if id, secret := os.Getenv(envS3AccessKeyID), os.Getenv(envS3SecretAccessKey); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client, manager.NewUploader(client), idgen), nil
}

func newS3Store(name, bucket, prefix string, client s3API, uploader s3Uploader, idgen camarc.IDGenerator) *S3Store {
	return &S3Store{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: uploader,
		idgen:    idgen,
	}
}

func (s *S3Store) Put(ctx context.Context, r io.Reader, size int64) (string, error) {
	ref := s.idgen.New()
	if err := validateReference(ref); err != nil {
		return "", err
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(ref)),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading photo to s3: %w", err)
	}
	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, reference string, w io.Writer) error {
	if err := validateReference(reference); err != nil {
		return err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(reference)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %s", camarc.ErrPhotoNotFound, reference)
		}
		return fmt.Errorf("downloading photo from s3: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading photo from s3: %w", err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) key(ref string) string {
	return path.Join(s.prefix, ref+photoExt)
}

var _ camarc.PhotoStore = (*S3Store)(nil)
