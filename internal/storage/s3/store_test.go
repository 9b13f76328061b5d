package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/sandworm/sandworm/internal/config"
	"github.com/sandworm/sandworm/internal/storage"
)

func TestPutUsesPrefixAndForwardsOptions(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("exports", "team-a/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	opts := storage.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"execution-id": "01HX"}}
	_, err = store.Put(context.Background(), "/results/date=2026-02-19/01HX.csv", bytes.NewBufferString("a\n1\n"), 4, opts)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "exports" {
		t.Fatalf("bucket = %q", fake.lastPutBucket)
	}
	if fake.lastPutKey != "team-a/prod/results/date=2026-02-19/01HX.csv" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
	if fake.lastPutOpts.ContentType != "text/csv" || fake.lastPutOpts.Metadata["execution-id"] != "01HX" {
		t.Fatalf("options = %+v", fake.lastPutOpts)
	}
	if string(fake.lastPutBody) != "a\n1\n" {
		t.Fatalf("body = %q", fake.lastPutBody)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store, err := NewWithClient("exports", "", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	for _, key := range []string{"../secrets.txt", "  ", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected validation error", key)
		}
	}
}

func TestStatMapsMissingObject(t *testing.T) {
	store, err := NewWithClient("exports", "", &fakeClient{statErr: storage.ErrObjectNotFound})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Stat(context.Background(), "results/x.csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeClient{bucketExists: false}
	store, err := NewWithClient("exports", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !fake.createBucketCalled {
		t.Fatal("expected CreateBucket to be called")
	}
}

func TestURI(t *testing.T) {
	store, err := NewWithClient("exports", "/team-a/", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	uri, err := store.URI("results/x.parquet")
	if err != nil {
		t.Fatalf("URI() error = %v", err)
	}
	if uri != "s3://exports/team-a/results/x.parquet" {
		t.Fatalf("URI() = %q", uri)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(context.Background(), config.ExportConfig{Bucket: "b"}); err == nil {
		t.Fatal("expected endpoint error")
	}
	if _, err := New(context.Background(), config.ExportConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}

	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("parseEndpoint(bare) = %q/%v/%v", endpoint, secure, err)
	}
	if _, _, err := parseEndpoint("http://", false); err == nil {
		t.Fatal("expected missing host error")
	}
}

func TestMapMinioErr(t *testing.T) {
	if err := mapMinioErr(minio.ErrorResponse{Code: "NoSuchKey"}); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("mapMinioErr(NoSuchKey) = %v", err)
	}
	other := errors.New("access denied")
	if err := mapMinioErr(other); err != other {
		t.Fatalf("mapMinioErr(other) = %v", err)
	}
}

type fakeClient struct {
	lastPutBucket      string
	lastPutKey         string
	lastPutOpts        storage.PutOptions
	lastPutBody        []byte
	bucketExists       bool
	createBucketCalled bool
	statErr            error
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	f.lastPutBucket = bucket
	f.lastPutKey = key
	f.lastPutOpts = opts
	f.lastPutBody, _ = io.ReadAll(reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	if f.statErr != nil {
		return storage.ObjectInfo{}, f.statErr
	}
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) CreateBucket(_ context.Context, _, _ string) error {
	f.createBucketCalled = true
	return nil
}
