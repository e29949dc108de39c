// Пакет blobstore — Storage Gateway поверх Azure Blob Storage.
package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/bigkaa/farm-photos/internal/storage"
)

// Store — объекты в контейнере Azure Blob Storage.
type Store struct {
	client    *azblob.Client
	container string
}

// New подключается по connection string и создаёт контейнер, если его нет.
func New(ctx context.Context, connectionString, container string) (*Store, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Azure Blob: %w", err)
	}

	if _, err := client.CreateContainer(ctx, container, nil); err != nil &&
		!bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("ошибка создания контейнера %s: %w", container, err)
	}
	return &Store{client: client, container: container}, nil
}

// Put реализует storage.Gateway.
func (s *Store) Put(ctx context.Context, data []byte, meta storage.ObjectMeta) (string, error) {
	handle := storage.Handle(meta)

	_, err := s.client.UploadBuffer(ctx, s.container, handle, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &meta.MimeType},
		Metadata: map[string]*string{
			"photo_id":     &meta.PhotoID,
			"farm_id":      &meta.FarmID,
			"content_hash": &meta.ContentHash,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ошибка загрузки blob %s: %w", handle, err)
	}
	return handle, nil
}

// Get реализует storage.Gateway.
func (s *Store) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, s.container, handle, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка чтения blob %s: %w", handle, err)
	}
	return resp.Body, nil
}

// Delete реализует storage.Gateway. Отсутствующий blob — не ошибка.
func (s *Store) Delete(ctx context.Context, handle string) error {
	if err := storage.ValidateHandle(handle); err != nil {
		return err
	}

	_, err := s.client.DeleteBlob(ctx, s.container, handle, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("ошибка удаления blob %s: %w", handle, err)
	}
	return nil
}
