package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/PumpeDie/teamup/internal/blob"
)

type stubAPI struct {
	puts    map[string][]byte
	ctypes  map[string]string
	deleted []string
	delErr  error
}

func (s *stubAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	s.puts[aws.ToString(in.Key)] = data
	s.ctypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (s *stubAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if s.delErr != nil {
		return nil, s.delErr
	}
	s.deleted = append(s.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestUploadAndPublicURL(t *testing.T) {
	api := &stubAPI{puts: map[string][]byte{}, ctypes: map[string]string{}}
	store := newStore(api, Config{Bucket: "file-storage", Endpoint: "http://minio:9000/", PathStyle: true}, "")

	key := "t1/abc_notes.txt"
	if err := store.Upload(context.Background(), key, []byte("hi"), "text/plain"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if string(api.puts[key]) != "hi" || api.ctypes[key] != "text/plain" {
		t.Fatalf("object not stored as expected: %v %v", api.puts, api.ctypes)
	}
	got, _ := store.PublicURL(context.Background(), key)
	if got != "http://minio:9000/file-storage/t1/abc_notes.txt" {
		t.Fatalf("PublicURL = %q", got)
	}
	derived, err := blob.KeyFromURL("t1", got)
	if err != nil || derived != key {
		t.Fatalf("KeyFromURL = %q, %v", derived, err)
	}
}

func TestPublicURLDefaults(t *testing.T) {
	store := newStore(&stubAPI{}, Config{Bucket: "docs"}, "eu-west-3")
	got, _ := store.PublicURL(context.Background(), "t1/x")
	if got != "https://docs.s3.eu-west-3.amazonaws.com/t1/x" {
		t.Fatalf("PublicURL = %q", got)
	}
	store = newStore(&stubAPI{}, Config{Bucket: "docs", PublicBaseURL: "https://cdn.example.com/"}, "")
	if got, _ := store.PublicURL(context.Background(), "t1/x"); got != "https://cdn.example.com/t1/x" {
		t.Fatalf("PublicURL with override = %q", got)
	}
}

func TestDeleteMapsMissingKey(t *testing.T) {
	api := &stubAPI{delErr: &types.NoSuchKey{}}
	store := newStore(api, Config{Bucket: "docs"}, "")
	if err := store.Delete(context.Background(), "t1/x"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	api.delErr = nil
	if err := store.Delete(context.Background(), "t1/x"); err != nil || len(api.deleted) != 1 {
		t.Fatalf("Delete: %v %v", err, api.deleted)
	}
}
