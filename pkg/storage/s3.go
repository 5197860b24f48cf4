package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// FolderPollArchives is the S3 prefix for archived poll results.
const FolderPollArchives = "archives/polls"

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// S3 uploads poll archives and hands out pre-signed download links.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
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
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("archive_bucket", cfg.ArchiveBucket))
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

// PollArchiveKey returns the S3 object key: archives/polls/{poll_id}.json.
func PollArchiveKey(pollID string) string {
	return path.Join(FolderPollArchives, pollID+".json")
}

// ArchiveBucket returns the archive bucket name.
func (s *S3) ArchiveBucket() string { return s.cfg.ArchiveBucket }

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// Upload streams body to bucket/key and returns the object URL.
func (s *S3) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key), nil
}

// GeneratePresignedDownloadURL returns a pre-signed GET URL for download.
func (s *S3) GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// HeadObject returns object metadata if it exists.
func (s *S3) HeadObject(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
}
