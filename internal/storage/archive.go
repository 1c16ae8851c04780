package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/digkill/imagify/internal/config"
)

const maxImageBytes = 20 << 20

var ErrUnsupportedImage = errors.New("unsupported image reference")

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive copies generated images into an S3 bucket so they outlive the
// backend's response.
type Archive struct {
	bucket        string
	publicBaseURL string
	prefix        string
	client        objectPutter
	httpClient    *http.Client
	log           *slog.Logger
	now           func() time.Time
}

func NewArchive(cfg config.Config, log *slog.Logger) (*Archive, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.S3PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}

	options := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle,
	}
	if cfg.S3Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return newArchive(cfg, s3.New(options), &http.Client{Timeout: 30 * time.Second}, log), nil
}

func newArchive(cfg config.Config, client objectPutter, httpClient *http.Client, log *slog.Logger) *Archive {
	prefix := cfg.S3Prefix
	if prefix == "" {
		prefix = "generations"
	}
	return &Archive{
		bucket:        cfg.S3Bucket,
		publicBaseURL: strings.TrimRight(cfg.S3PublicBaseURL, "/"),
		prefix:        strings.Trim(prefix, "/"),
		client:        client,
		httpClient:    httpClient,
		log:           log,
		now:           time.Now,
	}
}

// Archive stores image, either a data: URL or an http(s) URL, and returns
// its public URL.
func (a *Archive) Archive(ctx context.Context, image string) (string, error) {
	var (
		data        []byte
		contentType string
		err         error
	)
	switch {
	case strings.HasPrefix(image, "data:"):
		data, contentType, err = decodeDataURL(image)
	case strings.HasPrefix(image, "http://"), strings.HasPrefix(image, "https://"):
		data, contentType, err = a.download(ctx, image)
	default:
		return "", ErrUnsupportedImage
	}
	if err != nil {
		return "", err
	}
	return a.Upload(ctx, data, contentType)
}

func (a *Archive) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := a.generateKey(contentType)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	url := a.publicBaseURL + "/" + key
	if a.log != nil {
		a.log.Debug("image archived", "key", key, "bytes", len(data))
	}
	return url, nil
}

func (a *Archive) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return data, contentType, nil
}

func (a *Archive) generateKey(contentType string) string {
	ext := extensionFromContentType(contentType)
	now := a.now().UTC()
	return path.Join(a.prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+ext)
}

// decodeDataURL handles the base64 form only, which is what the backend sends.
func decodeDataURL(raw string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data url", ErrUnsupportedImage)
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return nil, "", fmt.Errorf("%w: data url is not base64", ErrUnsupportedImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, contentType, nil
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
