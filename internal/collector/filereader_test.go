package collector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/klauspost/compress/gzip"

	"github.com/ernie/killfeed/internal/domain"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func utf16LE(s string) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFE})
	for _, u := range utf16.Encode([]rune(s)) {
		_ = binary.Write(&buf, binary.LittleEndian, u)
	}
	return buf.Bytes()
}

func fixtureServer(t *testing.T) *domain.Server {
	return &domain.Server{
		ID:          "srv-1",
		Name:        "eu-1",
		Endpoint:    t.TempDir(),
		LogPath:     "SCUM.log",
		DeathLogDir: "deaths",
	}
}

func TestReadLinesSince(t *testing.T) {
	srv := fixtureServer(t)
	reader := NewFileReader()
	ctx := context.Background()
	path := filepath.Join(srv.Endpoint, srv.LogPath)

	writeFile(t, path, []byte("one\r\ntwo\nthree\npart"))

	batch, err := reader.ReadLinesSince(ctx, srv, 0)
	if err != nil {
		t.Fatalf("ReadLinesSince: %v", err)
	}
	if !reflect.DeepEqual(batch.Lines, []string{"one", "two", "three"}) {
		t.Errorf("Lines = %q", batch.Lines)
	}
	if batch.NewOffset != 3 || batch.Size != 3 {
		t.Errorf("NewOffset = %d Size = %d, want 3 3", batch.NewOffset, batch.Size)
	}

	batch, err = reader.ReadLinesSince(ctx, srv, 2)
	if err != nil {
		t.Fatalf("ReadLinesSince(2): %v", err)
	}
	if !reflect.DeepEqual(batch.Lines, []string{"three"}) {
		t.Errorf("Lines from 2 = %q", batch.Lines)
	}

	// Completing the partial line makes it visible
	writeFile(t, path, []byte("one\r\ntwo\nthree\npartial\n"))
	batch, _ = reader.ReadLinesSince(ctx, srv, 3)
	if !reflect.DeepEqual(batch.Lines, []string{"partial"}) || batch.NewOffset != 4 {
		t.Errorf("after completion: %+v", batch)
	}
}

func TestReadLinesSinceTruncated(t *testing.T) {
	srv := fixtureServer(t)
	writeFile(t, filepath.Join(srv.Endpoint, srv.LogPath), []byte("a\nb\n"))

	_, err := NewFileReader().ReadLinesSince(context.Background(), srv, 10)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	var truncated *TruncatedError
	if !errors.As(err, &truncated) || truncated.Size != 2 {
		t.Errorf("TruncatedError = %+v", truncated)
	}
}

func TestReadLinesSinceNotFound(t *testing.T) {
	srv := fixtureServer(t)
	_, err := NewFileReader().ReadLinesSince(context.Background(), srv, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReadLinesSinceUTF16(t *testing.T) {
	srv := fixtureServer(t)
	writeFile(t, filepath.Join(srv.Endpoint, srv.LogPath),
		utf16LE("LogSFPS: [Login] Player Zoë connected\r\nLogSFPS: AirDrop switched to Waiting\r\n"))

	batch, err := NewFileReader().ReadLinesSince(context.Background(), srv, 0)
	if err != nil {
		t.Fatalf("ReadLinesSince: %v", err)
	}
	want := []string{"LogSFPS: [Login] Player Zoë connected", "LogSFPS: AirDrop switched to Waiting"}
	if !reflect.DeepEqual(batch.Lines, want) {
		t.Errorf("Lines = %q, want %q", batch.Lines, want)
	}
}

func TestListDeathLogFiles(t *testing.T) {
	srv := fixtureServer(t)
	dir := filepath.Join(srv.Endpoint, srv.DeathLogDir)
	for _, name := range []string{"kill_20250410120000.log", "kill_20250409120000.log", "notes.txt", "kill_20250408120000.log.gz"} {
		writeFile(t, filepath.Join(dir, name), []byte(""))
	}
	if err := os.Mkdir(filepath.Join(dir, "kill_dir.log"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := NewFileReader().ListDeathLogFiles(context.Background(), srv)
	if err != nil {
		t.Fatalf("ListDeathLogFiles: %v", err)
	}
	want := []string{"kill_20250408120000.log.gz", "kill_20250409120000.log", "kill_20250410120000.log"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}
}

func TestReadFileContentGzip(t *testing.T) {
	srv := fixtureServer(t)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;150;\n"))
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(srv.Endpoint, srv.DeathLogDir, "kill_20250410000000.log.gz"), buf.Bytes())

	content, err := NewFileReader().ReadFileContent(context.Background(), srv, "kill_20250410000000.log.gz")
	if err != nil {
		t.Fatalf("ReadFileContent: %v", err)
	}
	if content != "2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;150;\n" {
		t.Errorf("content = %q", content)
	}
}

func TestReadFileContentRejectsPaths(t *testing.T) {
	srv := fixtureServer(t)
	_, err := NewFileReader().ReadFileContent(context.Background(), srv, "../secrets")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReaderHonoursContext(t *testing.T) {
	srv := fixtureServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := NewFileReader().ReadLinesSince(ctx, srv, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		content string
		partial bool
		want    []string
	}{
		{"", false, nil},
		{"a\n", false, []string{"a"}},
		{"a\nb", false, []string{"a"}},
		{"a\nb", true, []string{"a", "b"}},
		{"a\r\n\nb\n", false, []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		got := SplitLines(tt.content, tt.partial)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitLines(%q, %v) = %q, want %q", tt.content, tt.partial, got, tt.want)
		}
	}
}
