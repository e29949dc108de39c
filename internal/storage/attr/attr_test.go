package attr

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/farm-photos/internal/storage"
)

func testMeta() storage.ObjectMeta {
	return storage.ObjectMeta{
		PhotoID:     "p1",
		FarmID:      "farm",
		MimeType:    "image/jpeg",
		ContentHash: strings.Repeat("a", 64),
		Size:        1024,
		StoredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSaveLoad(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "farm", "p1.jpg")
	meta := testMeta()

	if err := Save(dataPath, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dataPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PhotoID != meta.PhotoID || got.ContentHash != meta.ContentHash || got.Size != meta.Size {
		t.Errorf("Load() = %+v, ожидалось %+v", got, meta)
	}
	if !got.StoredAt.Equal(meta.StoredAt) {
		t.Errorf("StoredAt = %v, ожидалось %v", got.StoredAt, meta.StoredAt)
	}

	raw, _ := os.ReadFile(Path(dataPath))
	if !strings.Contains(string(raw), `"format": 1`) {
		t.Errorf("в документе нет версии формата: %s", raw)
	}
	if !IsSidecar(Path(dataPath)) || IsSidecar(dataPath) {
		t.Error("IsSidecar распознаёт пути неверно")
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "не JSON", content: "{"},
		{name: "чужой формат", content: `{"format": 2, "photo_id": "p1", "content_hash": "` + strings.Repeat("a", 64) + `"}`},
		{name: "без photo_id", content: `{"format": 1, "content_hash": "` + strings.Repeat("a", 64) + `"}`},
		{name: "короткий hash", content: `{"format": 1, "photo_id": "p1", "content_hash": "abc"}`},
		{name: "hash не hex", content: `{"format": 1, "photo_id": "p1", "content_hash": "` + strings.Repeat("z", 64) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataPath := filepath.Join(t.TempDir(), "p1.jpg")
			if err := os.WriteFile(Path(dataPath), []byte(tt.content), 0o640); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(dataPath); !errors.Is(err, ErrCorrupt) {
				t.Errorf("ожидалась ErrCorrupt, получено %v", err)
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.jpg")); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("ожидалась ErrObjectNotFound, получено %v", err)
	}
}

func TestRemove_Missing(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "none.jpg")); err != nil {
		t.Errorf("удаление отсутствующего sidecar: %v", err)
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "p1.png")

	sum, err := WriteAtomic(path, strings.NewReader("first"))
	if err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if sum != "a7937b64b8caa58f03721bb6bacf5c78cb235febe0e70b1b84cd99541461a08e" {
		t.Errorf("sha256 = %s", sum)
	}
	if _, err := WriteAtomic(path, strings.NewReader("second")); err != nil {
		t.Fatalf("перезапись: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "second" {
		t.Errorf("содержимое = %q, ожидалось second", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("в директории %d файлов, временные файлы должны быть удалены", len(entries))
	}
}
