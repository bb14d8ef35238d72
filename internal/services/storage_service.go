// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// WebhookArchive keeps a copy of every verified webhook payload for audit
// and replay.
type WebhookArchive interface {
	Archive(ctx context.Context, source, eventID string, payload []byte) (*ArchiveResult, error)
}

type ArchiveResult struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	Stored bool   `json:"stored"`
}

// StorageService archives to S3. Without a bucket it only computes the key
// and digest so local development needs no AWS account.
type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	now      func() time.Time
}

func NewStorageService(cfg *config.Config) (*StorageService, error) {
	svc := &StorageService{bucket: cfg.AWS.ArchiveBucket, now: time.Now}
	if cfg.AWS.ArchiveBucket == "" {
		return svc, nil
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.AWS.Region)}
	if cfg.AWS.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	svc.s3Client = s3.New(sess)
	return svc, nil
}

// NewStorageServiceWithClient is used by tests to inject an S3 fake.
func NewStorageServiceWithClient(client s3iface.S3API, bucket string) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket, now: time.Now}
}

func (s *StorageService) Archive(ctx context.Context, source, eventID string, payload []byte) (*ArchiveResult, error) {
	result := &ArchiveResult{
		Key:    s.archiveKey(source, eventID),
		Size:   int64(len(payload)),
		SHA256: utils.HashBytes(payload),
	}
	if s.s3Client == nil {
		logrus.WithFields(logrus.Fields{
			"key":    result.Key,
			"sha256": result.SHA256,
		}).Debug("Webhook archive disabled, payload not stored")
		return result, nil
	}

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(result.Key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(result.Size),
		Metadata: map[string]*string{
			"event-id": aws.String(eventID),
			"sha256":   aws.String(result.SHA256),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive webhook payload to S3: %w", err)
	}
	result.Stored = true
	return result, nil
}

// archiveKey groups payloads by source and day: webhooks/stripe/20240131/evt_123.json
func (s *StorageService) archiveKey(source, eventID string) string {
	return fmt.Sprintf("webhooks/%s/%s/%s.json", source, s.now().UTC().Format("20060102"), eventID)
}
