// Пакет attr — sidecar-файлы метаданных фотографий в локальном хранилище
// и атомарная запись файлов.
//
// Рядом с байтами {farm}/{photo_id}.jpg лежит {farm}/{photo_id}.jpg.meta.json.
// Документ версионирован полем format; при чтении проверяется формат,
// идентификатор и SHA-256.
package attr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/farm-photos/internal/storage"
)

// Suffix — суффикс sidecar-файла.
const Suffix = ".meta.json"

// format — текущая версия документа.
const format = 1

// maxSidecarSize — предел размера документа.
const maxSidecarSize = 4096

// ErrCorrupt — sidecar не читается или не проходит проверку.
var ErrCorrupt = errors.New("повреждён файл метаданных")

// sidecar — документ на диске.
type sidecar struct {
	Format int `json:"format"`
	storage.ObjectMeta
}

// Path возвращает путь sidecar-файла для файла данных.
func Path(dataPath string) string {
	return dataPath + Suffix
}

// IsSidecar проверяет, является ли путь sidecar-файлом.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// Save сохраняет метаданные фотографии рядом с dataPath.
func Save(dataPath string, meta storage.ObjectMeta) error {
	data, err := json.MarshalIndent(sidecar{Format: format, ObjectMeta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных %s: %w", meta.PhotoID, err)
	}
	if len(data) > maxSidecarSize {
		return fmt.Errorf("метаданные %s: %d байт, максимум %d", meta.PhotoID, len(data), maxSidecarSize)
	}
	_, err = WriteAtomic(Path(dataPath), bytes.NewReader(data))
	return err
}

// Load читает метаданные фотографии, сохранённые Save.
// Отсутствующий файл — storage.ErrObjectNotFound, непрошедший проверку — ErrCorrupt.
func Load(dataPath string) (storage.ObjectMeta, error) {
	path := Path(dataPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectMeta{}, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, path)
		}
		return storage.ObjectMeta{}, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	var doc sidecar
	if err := json.Unmarshal(data, &doc); err != nil {
		return storage.ObjectMeta{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	switch {
	case doc.Format != format:
		return storage.ObjectMeta{}, fmt.Errorf("%w: %s: формат %d", ErrCorrupt, path, doc.Format)
	case doc.PhotoID == "":
		return storage.ObjectMeta{}, fmt.Errorf("%w: %s: нет photo_id", ErrCorrupt, path)
	case !isSHA256(doc.ContentHash):
		return storage.ObjectMeta{}, fmt.Errorf("%w: %s: content_hash %q", ErrCorrupt, path, doc.ContentHash)
	}
	return doc.ObjectMeta, nil
}

// Remove удаляет sidecar. Отсутствующий файл — не ошибка.
func Remove(dataPath string) error {
	path := Path(dataPath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", path, err)
	}
	return nil
}

// WriteAtomic записывает r в path через временный файл в той же
// директории: запись, fsync, rename. Возвращает SHA-256 записанного.
// Читатели видят либо старый файл, либо новый целиком.
func WriteAtomic(path string, r io.Reader) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	if _, err := io.Copy(f, io.TeeReader(r, hasher)); err != nil {
		return "", fmt.Errorf("ошибка записи %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("ошибка fsync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("ошибка закрытия %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("ошибка переименования в %s: %w", path, err)
	}
	committed = true
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func isSHA256(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
