// Пакет blobstore — объектное хранилище содержимого документов (S3/MinIO).
// Ключи адресуются содержимым: applications/{applicationId}/{sha256}, поэтому
// повторная загрузка тех же байтов не создаёт новый объект.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/loandesk/internal/config"
)

// ErrNotFound — объект отсутствует в хранилище.
var ErrNotFound = errors.New("объект не найден")

// Key формирует ключ объекта документа заявки.
func Key(applicationID, checksum string) string {
	return "applications/" + applicationID + "/" + checksum
}

// S3Store — хранилище на S3-совместимом сервисе.
type S3Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3Store создаёт клиента S3 по конфигурации.
// Пустой LD_S3_ACCESS_KEY — стандартная цепочка учётных данных AWS.
func NewS3Store(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
		// MinIO и другие S3-совместимые хранилища не всегда поддерживают CRC-заголовки.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return NewS3StoreFromClient(client, cfg.S3Bucket, logger), nil
}

// NewS3StoreFromClient создаёт хранилище поверх готового клиента.
func NewS3StoreFromClient(client *s3.Client, bucket string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger.With(slog.String("component", "blobstore")),
	}
}

// CheckReady проверяет доступность бакета.
// Недоступное хранилище не мешает чтению заявок, поэтому статус degraded.
func (s *S3Store) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return "degraded", fmt.Sprintf("бакет %s недоступен: %v", s.bucket, err)
	}
	return "ok", "бакет доступен"
}

// ObjectInfo — метаданные объекта.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Head возвращает метаданные объекта или ErrNotFound.
func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("ошибка HEAD объекта %s: %w", key, err)
	}
	return ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Get читает объект целиком.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, ObjectInfo{}, fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("ошибка чтения тела объекта %s: %w", key, err)
	}
	return data, ObjectInfo{Size: int64(len(data)), ContentType: aws.ToString(out.ContentType)}, nil
}

// Put сохраняет объект.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("ошибка записи объекта %s: %w", key, err)
	}

	s.logger.Debug("Объект сохранён",
		slog.String("key", key),
		slog.Int("size", len(data)),
	)
	return nil
}
