package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/chachabrian/mooveit-dispatch/internal/config"
	"github.com/sirupsen/logrus"
)

// ReceiptStorage archives payment receipts
type ReceiptStorage interface {
	SaveReceipt(ctx context.Context, tripID uint, body []byte) (string, error)
}

// NewReceiptStorage returns S3 storage when AWS credentials are configured
// and falls back to the local filesystem otherwise
func NewReceiptStorage(cfg config.AWSConfig, localDir string, log *logrus.Logger) (ReceiptStorage, error) {
	if cfg.Region != "" && cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" && cfg.Bucket != "" {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.Region),
			Credentials: credentials.NewStaticCredentials(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}

		log.Info("receipts will be archived to S3")
		return &S3ReceiptStorage{
			uploader: s3manager.NewUploader(sess),
			bucket:   cfg.Bucket,
			region:   cfg.Region,
		}, nil
	}

	log.Warn("AWS S3 not configured, archiving receipts on local disk")
	return NewLocalReceiptStorage(localDir)
}

func receiptKey(tripID uint) string {
	return fmt.Sprintf("receipts/trip-%d.json", tripID)
}

// S3Uploader is satisfied by *s3manager.Uploader
type S3Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type S3ReceiptStorage struct {
	uploader S3Uploader
	bucket   string
	region   string
}

func (s *S3ReceiptStorage) SaveReceipt(ctx context.Context, tripID uint, body []byte) (string, error) {
	key := receiptKey(tripID)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

type LocalReceiptStorage struct {
	dir string
}

func NewLocalReceiptStorage(dir string) (*LocalReceiptStorage, error) {
	if err := os.MkdirAll(filepath.Join(dir, "receipts"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	return &LocalReceiptStorage{dir: dir}, nil
}

// SaveReceipt writes the receipt and returns its path relative to the storage root
func (s *LocalReceiptStorage) SaveReceipt(ctx context.Context, tripID uint, body []byte) (string, error) {
	key := receiptKey(tripID)
	if err := os.WriteFile(filepath.Join(s.dir, filepath.FromSlash(key)), body, 0644); err != nil {
		return "", fmt.Errorf("failed to save receipt: %w", err)
	}
	return key, nil
}
