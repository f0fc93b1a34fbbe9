package photostore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"camarc/internal/camarc"
)

// fakeBucket is an in-memory stand-in for both the S3 client and uploader.
type fakeBucket struct {
	mu      sync.Mutex
	name    string
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func newFakeBucket(name string) *fakeBucket {
	return &fakeBucket{name: name, objects: make(map[string][]byte)}
}

func (f *fakeBucket) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if aws.ToString(input.Bucket) != f.name {
		return nil, errors.New("no such bucket")
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(input.Key)] = data
	f.puts = append(f.puts, input)
	return &manager.UploadOutput{}, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeBucket) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(params.Bucket) != f.name {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Store(t *testing.T) {
	storeContract(t, func(t *testing.T) camarc.PhotoStore {
		bucket := newFakeBucket("photos")
		return newS3Store("remote", "photos", "cam", bucket, sizeCheckingUploader{bucket}, &seqIDs{})
	})
}

// sizeCheckingUploader rejects bodies whose length disagrees with
// ContentLength, as S3 does.
type sizeCheckingUploader struct {
	bucket *fakeBucket
}

func (u sizeCheckingUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != aws.ToInt64(input.ContentLength) {
		return nil, errors.New("content length mismatch")
	}
	input.Body = bytes.NewReader(data)
	return u.bucket.Upload(ctx, input, opts...)
}

func TestS3Store_ObjectKeys(t *testing.T) {
	bucket := newFakeBucket("photos")
	s := newS3Store("remote", "photos", "cam/front", bucket, bucket, &seqIDs{})

	ref, err := s.Put(context.Background(), strings.NewReader("jpeg"), 4)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if len(bucket.puts) != 1 {
		t.Fatalf("got %d uploads, want 1", len(bucket.puts))
	}
	put := bucket.puts[0]
	if got, want := aws.ToString(put.Key), "cam/front/"+ref+".jpg"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if got := aws.ToString(put.ContentType); got != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", got)
	}
}

func TestS3Store_ValidateSetup(t *testing.T) {
	bucket := newFakeBucket("other")
	s := newS3Store("remote", "photos", "", bucket, bucket, &seqIDs{})
	if err := s.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}
