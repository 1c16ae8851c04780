package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/digkill/imagify/internal/config"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func newTestArchive(putter *fakePutter) *Archive {
	cfg := config.Config{
		S3Bucket:        "imagify",
		S3PublicBaseURL: "https://cdn.example.com/",
		S3Prefix:        "/generations/",
	}
	a := newArchive(cfg, putter, http.DefaultClient, nil)
	a.now = func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiveDataURL(t *testing.T) {
	putter := &fakePutter{}
	a := newTestArchive(putter)
	png := []byte("\x89PNG fake")
	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	url, err := a.Archive(context.Background(), image)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/generations/2026/03/07/") || !strings.HasSuffix(url, ".png") {
		t.Errorf("url = %q", url)
	}
	if len(putter.inputs) != 1 {
		t.Fatalf("puts = %d", len(putter.inputs))
	}
	in := putter.inputs[0]
	if *in.Bucket != "imagify" || *in.ContentType != "image/png" {
		t.Errorf("bucket = %q content type = %q", *in.Bucket, *in.ContentType)
	}
	if string(putter.bodies[0]) != string(png) {
		t.Errorf("body = %q", putter.bodies[0])
	}
	if !strings.HasSuffix(url, *in.Key) {
		t.Errorf("url %q does not end with key %q", url, *in.Key)
	}
}

func TestArchiveRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	putter := &fakePutter{}
	a := newTestArchive(putter)
	url, err := a.Archive(context.Background(), srv.URL+"/img.jpg")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !strings.HasSuffix(url, ".jpg") || *putter.inputs[0].ContentType != "image/jpeg" {
		t.Errorf("url = %q content type = %q", url, *putter.inputs[0].ContentType)
	}
}

func TestArchiveRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	putter := &fakePutter{}
	if _, err := newTestArchive(putter).Archive(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if len(putter.inputs) != 0 {
		t.Error("failed download was uploaded")
	}
}

func TestArchiveRejectsUnknownReferences(t *testing.T) {
	a := newTestArchive(&fakePutter{})
	for _, image := range []string{"ftp://x/y.png", "data:image/png,rawbytes", "data:nocomma"} {
		if _, err := a.Archive(context.Background(), image); !errors.Is(err, ErrUnsupportedImage) {
			t.Errorf("Archive(%q) err = %v, want ErrUnsupportedImage", image, err)
		}
	}
}

func TestArchiveUploadFailure(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	image := "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("webp"))
	if _, err := newTestArchive(putter).Archive(context.Background(), image); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewArchiveValidation(t *testing.T) {
	if _, err := NewArchive(config.Config{S3Bucket: "b"}, nil); err == nil {
		t.Error("expected error for missing region")
	}
	cfg := config.Config{
		S3Bucket:        "b",
		S3Region:        "us-east-1",
		S3AccessKey:     "ak",
		S3SecretKey:     "sk",
		S3PublicBaseURL: "https://cdn.example.com",
		S3Endpoint:      "http://localhost:9000",
		S3UsePathStyle:  true,
	}
	if _, err := NewArchive(cfg, nil); err != nil {
		t.Errorf("NewArchive: %v", err)
	}
}
