package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxImageSize is the largest contestant picture accepted (5MB).
	MaxImageSize = 5 * 1024 * 1024
	// FolderContestants is the S3 prefix for contestant images.
	FolderContestants = "contestants"
)

// ErrUnsupportedImage is returned for uploads that are not a known image type.
var ErrUnsupportedImage = errors.New("unsupported image type")

// Allowed image MIME types and extensions.
var (
	AllowedImageTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/jpg":  ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/gif":  ".gif",
	}
	AllowedImageExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".gif":  "image/gif",
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ImagesBucket    string
}

// S3 stores contestant images in a public-read bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY), falling back to the default chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey, secretKey := cfg.AccessKeyID, cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.ImagesBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ValidateImageType returns true if the content type or extension is an allowed image.
func ValidateImageType(contentType, filename string) bool {
	if _, ok := AllowedImageTypes[strings.ToLower(contentType)]; ok {
		return true
	}
	_, ok := AllowedImageExtensions[strings.ToLower(path.Ext(filename))]
	return ok
}

// ContentTypeForFilename returns the MIME type for an image filename extension.
func ContentTypeForFilename(filename string) string {
	if ct, ok := AllowedImageExtensions[strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ImageKey returns a fresh object key: contestants/{uuid}{ext}. The client filename only
// contributes its extension.
func ImageKey(contentType, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := AllowedImageExtensions[ext]; !ok {
		ext = AllowedImageTypes[strings.ToLower(contentType)]
	}
	return path.Join(FolderContestants, uuid.NewString()+ext)
}

// PublicObjectURL returns the unsigned URL of an object in the images bucket.
func (s *S3) PublicObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.ImagesBucket, s.cfg.Region, key)
}

// UploadContestantImage validates and streams an image to the images bucket with public-read ACL.
func (s *S3) UploadContestantImage(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, string, error) {
	if !ValidateImageType(contentType, filename) {
		return "", "", ErrUnsupportedImage
	}
	if size > MaxImageSize {
		return "", "", fmt.Errorf("image is %d bytes, limit %d", size, MaxImageSize)
	}
	if _, ok := AllowedImageTypes[strings.ToLower(contentType)]; !ok {
		contentType = ContentTypeForFilename(filename)
	}
	key := ImageKey(contentType, filename)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.ImagesBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", "", fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("contestant image uploaded", zap.String("key", key), zap.Int64("size", size))
	return s.PublicObjectURL(key), key, nil
}

// DeleteImage removes an image from the images bucket. Deleting a missing key succeeds.
func (s *S3) DeleteImage(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.ImagesBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
