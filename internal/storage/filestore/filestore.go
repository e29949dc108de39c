// Пакет filestore — Storage Gateway на локальном диске.
// Объект — файл {dataDir}/{handle} и рядом sidecar с метаданными (пакет attr).
package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bigkaa/farm-photos/internal/storage"
	"github.com/bigkaa/farm-photos/internal/storage/attr"
)

// FileStore — объекты на локальном диске.
type FileStore struct {
	// dataDir — корневая директория хранения (FP_DATA_DIR)
	dataDir string
}

// New создаёт FileStore, создавая директорию при необходимости.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Put реализует storage.Gateway.
// Повторный Put того же объекта перезаписывает его.
func (fs *FileStore) Put(ctx context.Context, data []byte, meta storage.ObjectMeta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	handle := storage.Handle(meta)
	fullPath := fs.FullPath(handle)

	checksum, err := attr.WriteAtomic(fullPath, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if meta.ContentHash != "" && meta.ContentHash != checksum {
		os.Remove(fullPath)
		return "", fmt.Errorf("контрольная сумма не совпадает: ожидалось %s, записано %s", meta.ContentHash, checksum)
	}

	meta.ContentHash = checksum
	meta.Size = int64(len(data))
	if err := attr.Save(fullPath, meta); err != nil {
		os.Remove(fullPath)
		return "", err
	}
	return handle, nil
}

// Get реализует storage.Gateway.
func (fs *FileStore) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(fs.FullPath(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", handle, err)
	}
	return f, nil
}

// Delete реализует storage.Gateway. Удаляет файл и sidecar.
func (fs *FileStore) Delete(ctx context.Context, handle string) error {
	if err := storage.ValidateHandle(handle); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := fs.FullPath(handle)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", handle, err)
	}
	return attr.Remove(fullPath)
}

// Meta читает метаданные объекта из sidecar.
func (fs *FileStore) Meta(handle string) (storage.ObjectMeta, error) {
	if err := storage.ValidateHandle(handle); err != nil {
		return storage.ObjectMeta{}, err
	}
	return attr.Load(fs.FullPath(handle))
}

// FullPath возвращает абсолютный путь к объекту на диске.
func (fs *FileStore) FullPath(handle string) string {
	return filepath.Join(fs.dataDir, filepath.FromSlash(handle))
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
