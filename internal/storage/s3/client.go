package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/pkg/errors"
)

// Config holds configuration for S3 artifact storage.
type Config struct {
	Region          string        `json:"region" yaml:"region"`
	Bucket          string        `json:"bucket" yaml:"bucket"`
	AccessKeyID     string        `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style" yaml:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" yaml:"disable_ssl"`
	Prefix          string        `json:"prefix" yaml:"prefix"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
}

// ArtifactStore implements artifact storage on AWS S3 or any S3-compatible
// object store. Every call is bounded by the configured timeout.
type ArtifactStore struct {
	config     *Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	closed     bool
}

// NewArtifactStore creates a new S3 artifact store instance.
func NewArtifactStore(config *Config, logger *logrus.Logger) (*ArtifactStore, error) {
	if config == nil {
		return nil, errors.NewStorageError("INVALID_CONFIG", "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError("INVALID_CONFIG", "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &ArtifactStore{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes the S3 session and verifies bucket access.
func (s *ArtifactStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil // Already connected
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
		awsConfig.DisableSSL = aws.Bool(s.config.DisableSSL)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to create AWS session")
	}

	client := s3.New(sess)

	opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if _, err := client.HeadBucketWithContext(opCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			fmt.Sprintf("cannot access bucket %s", s.config.Bucket))
	}

	s.s3Client = client
	s.uploader = s3manager.NewUploaderWithClient(client)
	s.downloader = s3manager.NewDownloaderWithClient(client)

	s.logger.WithFields(logrus.Fields{
		"bucket": s.config.Bucket,
		"region": s.config.Region,
	}).Info("Connected to S3 artifact store")
	return nil
}

// Close releases the client. The AWS session holds no persistent
// connections that need explicit teardown.
func (s *ArtifactStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true
	return nil
}

// Ping verifies bucket access.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if _, err := client.HeadBucketWithContext(opCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "S3 bucket unavailable")
	}
	return nil
}

// PutArtifact durably writes an artifact blob.
func (s *ArtifactStore) PutArtifact(ctx context.Context, versionID string, data []byte) error {
	s.mu.RLock()
	uploader := s.uploader
	s.mu.RUnlock()
	if uploader == nil {
		return errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if _, err := uploader.UploadWithContext(opCtx, &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.artifactKey(versionID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to upload artifact %s", versionID))
	}

	s.logger.WithFields(logrus.Fields{
		"version_id": versionID,
		"bytes":      len(data),
	}).Debug("Artifact uploaded")
	return nil
}

// GetArtifact reads an artifact blob.
func (s *ArtifactStore) GetArtifact(ctx context.Context, versionID string) ([]byte, error) {
	s.mu.RLock()
	downloader := s.downloader
	s.mu.RUnlock()
	if downloader == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	buf := aws.NewWriteAtBuffer([]byte{})
	if _, err := downloader.DownloadWithContext(opCtx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.artifactKey(versionID)),
	}); err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.WrapError(errors.ErrArtifactNotFound, errors.ErrorTypeStorage, errors.CodeReadFailed,
				fmt.Sprintf("artifact %s not found", versionID))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("failed to download artifact %s", versionID))
	}
	return buf.Bytes(), nil
}

// DeleteArtifact removes an artifact blob. S3 delete is idempotent, so a
// missing key is not an error.
func (s *ArtifactStore) DeleteArtifact(ctx context.Context, versionID string) error {
	client, err := s.conn()
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if _, err := client.DeleteObjectWithContext(opCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.artifactKey(versionID)),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to delete artifact %s", versionID))
	}
	return nil
}

func (s *ArtifactStore) conn() (*s3.S3, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}
	return s.s3Client, nil
}

func (s *ArtifactStore) artifactKey(versionID string) string {
	return path.Join(s.config.Prefix, "artifacts", versionID+".model.json")
}
