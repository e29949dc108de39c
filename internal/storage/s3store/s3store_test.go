package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/bigkaa/farm-photos/internal/storage"
)

// fakeS3 — бакет в памяти. Реализует только используемые методы.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.types[*in.Key] = aws.StringValue(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_Lifecycle(t *testing.T) {
	fake := newFakeS3()
	s := NewWithClient(fake, "photos", "farm-photos/")
	ctx := context.Background()

	handle, err := s.Put(ctx, []byte("png-bytes"), storage.ObjectMeta{PhotoID: "p1", FarmID: "farm-1", MimeType: "image/png"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := fake.objects["farm-photos/farm-1/p1.png"]; !ok {
		t.Fatalf("объект не найден под ожидаемым ключом, ключи: %v", fake.objects)
	}
	if fake.types["farm-photos/farm-1/p1.png"] != "image/png" {
		t.Errorf("ContentType = %q", fake.types["farm-photos/farm-1/p1.png"])
	}

	rc, err := s.Get(ctx, handle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png-bytes" {
		t.Errorf("прочитано %q", data)
	}

	if err := s.Delete(ctx, handle); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, handle); err != nil {
		t.Fatalf("повторный Delete: %v", err)
	}
	if _, err := s.Get(ctx, handle); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("ожидалась ErrObjectNotFound, получено %v", err)
	}
}

func TestStore_InvalidHandle(t *testing.T) {
	s := NewWithClient(newFakeS3(), "photos", "")
	if err := s.Delete(context.Background(), "../x"); !errors.Is(err, storage.ErrInvalidHandle) {
		t.Errorf("ожидалась ErrInvalidHandle, получено %v", err)
	}
}
