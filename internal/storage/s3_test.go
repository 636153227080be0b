package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// fakeS3 serves the subset of the S3 REST API used by S3Storage with
// path-style addressing.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(path, "/")

	if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
		fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>", f.bucket, prefix)
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, "<Contents><Key>%s</Key></Contents>", k)
			}
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, b.String())
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.puts++
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) set(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func newFakeS3Storage(t *testing.T) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "docs", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	s, err := NewS3Storage(context.Background(), S3Config{
		Bucket:          "docs",
		Prefix:          "exports/",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      1,
	})
	if err != nil {
		t.Fatalf("NewS3Storage failed: %v", err)
	}
	return s, fake
}

func TestS3Storage_GetAndExists(t *testing.T) {
	s, fake := newFakeS3Storage(t)
	ctx := context.Background()
	fake.set("exports/app.json.sz", []byte("payload"))

	exists, err := s.Exists(ctx, "app.json.sz")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := s.Get(ctx, "app.json.sz")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q, want payload", got)
	}

	exists, err = s.Exists(ctx, "other.json.sz")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected missing object to not exist")
	}
}

func TestS3Storage_GetMissing(t *testing.T) {
	s, _ := newFakeS3Storage(t)

	_, err := s.Get(context.Background(), "missing.json.sz")
	if !stderrors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestS3Storage_PutDeleteList(t *testing.T) {
	s, fake := newFakeS3Storage(t)
	ctx := context.Background()

	if err := s.Put(ctx, "b.json.sz", []byte("b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n := fake.putCount(); n != 1 {
		t.Errorf("expected 1 PUT, got %d", n)
	}
	if !fake.has("exports/b.json.sz") {
		t.Error("object stored under wrong key")
	}
	fake.set("exports/a.json.sz", []byte("a"))
	fake.set("elsewhere/c.json.sz", []byte("c"))

	keys, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"a.json.sz", "b.json.sz"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("got %v, want %v", keys, want)
	}

	if err := s.Delete(ctx, "b.json.sz"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if fake.has("exports/b.json.sz") {
		t.Error("expected object to be deleted")
	}
}
