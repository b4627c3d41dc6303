package images

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ghalamif/RailFlow/internal/domain"
)

func TestFileStoreSave(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	key := domain.ImageKey("car", "car-1-abc", time.Date(2026, 5, 4, 13, 2, 1, 5000, time.UTC))
	path, err := s.Save(context.Background(), key, []byte("jpeg"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if want := filepath.Join(root, filepath.FromSlash(key)); path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "jpeg" {
		t.Fatalf("unexpected content %q", got)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestFileStoreEmptyFrame(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	path, err := s.Save(context.Background(), "x/y.jpg", nil)
	if err != nil || path != "" {
		t.Fatalf("expected empty path for empty frame, got %q (%v)", path, err)
	}
}

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3StoreSave(t *testing.T) {
	p := &fakePutter{}
	s := &S3Store{cfg: S3Config{Bucket: "frames", Prefix: "edge-1/", Timeout: time.Second}, client: p}

	path, err := s.Save(context.Background(), "20260504/car_e1_130201_000005.jpg", []byte{1, 2})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if path != "s3://frames/edge-1/20260504/car_e1_130201_000005.jpg" {
		t.Fatalf("unexpected path %s", path)
	}
	if aws.ToString(p.in.Bucket) != "frames" || aws.ToString(p.in.ContentType) != "image/jpeg" {
		t.Fatalf("unexpected put input: bucket=%s type=%s", aws.ToString(p.in.Bucket), aws.ToString(p.in.ContentType))
	}
	if !bytes.Equal(p.body, []byte{1, 2}) {
		t.Fatalf("unexpected body %v", p.body)
	}

	p.err = errors.New("access denied")
	if _, err = s.Save(context.Background(), "k.jpg", []byte{1}); err == nil || !strings.Contains(err.Error(), "s3://frames/edge-1/k.jpg") {
		t.Fatalf("expected error naming the object, got %v", err)
	}

	path, err = s.Save(context.Background(), "k.jpg", nil)
	if err != nil || path != "" {
		t.Fatalf("expected empty frame to be skipped, got %q (%v)", path, err)
	}
}
