// Пакет s3store — Storage Gateway поверх Amazon S3 (и совместимых хранилищ).
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/bigkaa/farm-photos/internal/storage"
)

// Config — параметры подключения к S3.
type Config struct {
	Bucket string
	Region string
	// Endpoint — адрес S3-совместимого хранилища (MinIO, R2). Пусто — AWS.
	Endpoint string
	// Prefix — префикс ключей объектов
	Prefix string
}

// Store — объекты в бакете S3.
type Store struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// New создаёт Store. Учётные данные берутся из стандартной цепочки AWS SDK.
func New(cfg Config) (*Store, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания сессии AWS: %w", err)
	}
	return NewWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient создаёт Store поверх готового клиента.
func NewWithClient(client s3iface.S3API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Put реализует storage.Gateway.
func (s *Store) Put(ctx context.Context, data []byte, meta storage.ObjectMeta) (string, error) {
	handle := storage.Handle(meta)

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(handle)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(meta.MimeType),
		Metadata: map[string]*string{
			"Photo-Id":     aws.String(meta.PhotoID),
			"Farm-Id":      aws.String(meta.FarmID),
			"Content-Hash": aws.String(meta.ContentHash),
			"Size":         aws.String(strconv.Itoa(len(data))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ошибка загрузки объекта %s в S3: %w", handle, err)
	}
	return handle, nil
}

// Get реализует storage.Gateway.
func (s *Store) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return nil, err
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s из S3: %w", handle, err)
	}
	return out.Body, nil
}

// Delete реализует storage.Gateway. DeleteObject в S3 идемпотентен.
func (s *Store) Delete(ctx context.Context, handle string) error {
	if err := storage.ValidateHandle(handle); err != nil {
		return err
	}

	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s из S3: %w", handle, err)
	}
	return nil
}

func (s *Store) key(handle string) string {
	return s.prefix + handle
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
