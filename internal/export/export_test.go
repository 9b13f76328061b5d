package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sandworm/sandworm/dune"
	"github.com/sandworm/sandworm/internal/storage"
)

func sampleResult() dune.ResultSet {
	return dune.ResultSet{
		ExecutionID: "01HQEXEC",
		State:       dune.StateCompleted,
		Result: &dune.QueryResult{
			Metadata: dune.ResultMetadata{ColumnNames: []string{"epoch", "validator", "meta"}},
			Rows: []map[string]any{
				{"epoch": float64(500), "validator": "Val,One", "meta": map[string]any{"k": "v"}},
				{"epoch": float64(501), "validator": nil},
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var out bytes.Buffer
	written, err := WriteCSV(&out, sampleResult())
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if written != 2 {
		t.Fatalf("written = %d", written)
	}
	want := "epoch,validator,meta\n500,\"Val,One\",\"{\"\"k\"\":\"\"v\"\"}\"\n501,,\n"
	if out.String() != want {
		t.Fatalf("WriteCSV() = %q, want %q", out.String(), want)
	}
}

func TestWriteCSVFallsBackToSortedRowKeys(t *testing.T) {
	rs := dune.ResultSet{Result: &dune.QueryResult{Rows: []map[string]any{{"b": "2", "a": "1"}}}}
	var out bytes.Buffer
	if _, err := WriteCSV(&out, rs); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if out.String() != "a,b\n1,2\n" {
		t.Fatalf("WriteCSV() = %q", out.String())
	}
}

func TestWriteCSVRequiresColumns(t *testing.T) {
	if _, err := WriteCSV(io.Discard, dune.ResultSet{ExecutionID: "x"}); err == nil {
		t.Fatal("expected error for result without columns")
	}
}

func TestEncodeParquet(t *testing.T) {
	result, err := EncodeParquet(sampleResult())
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	if result.RecordCount != 2 {
		t.Fatalf("RecordCount = %d", result.RecordCount)
	}
	if strings.Join(result.Columns, ",") != "epoch,meta,validator" {
		t.Fatalf("Columns = %v", result.Columns)
	}

	file, err := parquet.OpenFile(bytes.NewReader(result.Data), int64(len(result.Data)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}

	reader := parquet.NewReader(bytes.NewReader(result.Data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquet.Row, 2)
	count, err := reader.ReadRows(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadRows() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if got := string(rows[0][0].ByteArray()); got != "500" {
		t.Fatalf("epoch = %q", got)
	}
	if got := string(rows[0][1].ByteArray()); got != `{"k":"v"}` {
		t.Fatalf("meta = %q", got)
	}
	if !rows[1][2].IsNull() {
		t.Fatalf("validator in row 2 should be null, got %v", rows[1][2])
	}
}

func TestEncodeParquetRejectsEmptyResult(t *testing.T) {
	if _, err := EncodeParquet(dune.ResultSet{ExecutionID: "x"}); err == nil {
		t.Fatal("expected error for result without columns")
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat(" Parquet ")
	if err != nil || format != FormatParquet {
		t.Fatalf("ParseFormat() = %q, %v", format, err)
	}
	if _, err := ParseFormat("xlsx"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestUploaderUsesResultKey(t *testing.T) {
	store := newMemoryStore()
	uploader := Uploader{Store: store, Now: fixedNow}

	res, err := uploader.Upload(context.Background(), "01HQEXEC", FormatCSV, []byte("a\n1\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Key != "results/date=2026-02-19/01HQEXEC.csv" || res.URI != "mem://"+res.Key || res.Skipped {
		t.Fatalf("result = %+v", res)
	}
	put := store.puts[res.Key]
	if string(put.body) != "a\n1\n" || put.opts.ContentType != "text/csv" {
		t.Fatalf("stored = %+v", put)
	}
	if put.opts.Metadata["execution-id"] != "01HQEXEC" {
		t.Fatalf("metadata = %v", put.opts.Metadata)
	}
}

func TestUploaderSkipsExistingUnlessOverwrite(t *testing.T) {
	store := newMemoryStore()
	first := Uploader{Store: store, Now: fixedNow}
	if _, err := first.Upload(context.Background(), "01HQEXEC", FormatParquet, []byte("v1")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	res, err := first.Upload(context.Background(), "01HQEXEC", FormatParquet, []byte("v2"))
	if err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}
	if !res.Skipped || string(store.puts[res.Key].body) != "v1" {
		t.Fatalf("expected existing export to be kept, got %+v", res)
	}

	overwrite := Uploader{Store: store, Now: fixedNow, Overwrite: true}
	if _, err := overwrite.Upload(context.Background(), "01HQEXEC", FormatParquet, []byte("v3")); err != nil {
		t.Fatalf("overwrite Upload() error = %v", err)
	}
	if got := string(store.puts["results/date=2026-02-19/01HQEXEC.parquet"].body); got != "v3" {
		t.Fatalf("body = %q", got)
	}
}

func TestUploaderPropagatesStatFailure(t *testing.T) {
	store := newMemoryStore()
	store.statErr = errors.New("access denied")
	_, err := Uploader{Store: store, Now: fixedNow}.Upload(context.Background(), "01HQEXEC", FormatCSV, nil)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("Upload() error = %v", err)
	}
}

func fixedNow() time.Time {
	return time.Date(2026, time.February, 19, 12, 0, 0, 0, time.UTC)
}

type storedObject struct {
	body []byte
	opts storage.PutOptions
}

type memoryStore struct {
	puts    map[string]storedObject
	statErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{puts: map[string]storedObject{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.puts[key] = storedObject{body: data, opts: opts}
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (m *memoryStore) URI(key string) (string, error) { return "mem://" + key, nil }

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	if m.statErr != nil {
		return storage.ObjectInfo{}, m.statErr
	}
	obj, ok := m.puts[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.body))}, nil
}
