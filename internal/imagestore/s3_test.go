package imagestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"atelier/internal/logging"
	"atelier/internal/services"
)

type fakeObjects struct {
	objects     map[string][]byte
	contentType map[string]string
	headErr     error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.contentType[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3SaveUsesPrefixAndContentType(t *testing.T) {
	fake := newFakeObjects()
	store := newS3WithClient("bucket", "/generated/", fake, logging.NewNop())
	ctx := context.Background()

	key, err := store.Save(ctx, "q_01.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if key != "generated/q_01.png" {
		t.Fatalf("unexpected object key %q", key)
	}
	if fake.contentType[key] != "image/png" {
		t.Fatalf("expected content type recorded, got %q", fake.contentType[key])
	}

	data, err := store.Read(ctx, key)
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("Read mismatch: %q err=%v", data, err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Read(ctx, key); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestS3KeysCannotEscapePrefix(t *testing.T) {
	store := newS3WithClient("bucket", "generated", newFakeObjects(), nil)
	if got := store.objectKey("../../other/q.png"); got != "generated/other/q.png" {
		t.Fatalf("unexpected cleaned key %q", got)
	}
}

func TestS3HealthPropagatesErrors(t *testing.T) {
	fake := newFakeObjects()
	fake.headErr = errors.New("forbidden")
	store := newS3WithClient("bucket", "", fake, nil)
	if err := store.Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}
}
