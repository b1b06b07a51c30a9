package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ernie/killfeed/internal/domain"
)

// deathLogNameRegex matches death log files like kill_20250410000000.log,
// optionally gzip archived by the host
var deathLogNameRegex = regexp.MustCompile(`^kill_[^/\\]+\.(?:log|csv)(?:\.gz)?$`)

// IsDeathLogName reports whether name looks like a death log file
func IsDeathLogName(name string) bool {
	return deathLogNameRegex.MatchString(name)
}

// FileReader reads server sources from a locally mounted or synced
// directory. Server.Endpoint is the base directory.
type FileReader struct{}

// NewFileReader creates a filesystem reader
func NewFileReader() *FileReader {
	return &FileReader{}
}

// ReadLinesSince returns the complete lines after offset
func (r *FileReader) ReadLinesSince(ctx context.Context, server *domain.Server, offset int) (LineBatch, error) {
	path := filepath.Join(server.Endpoint, server.LogPath)
	return withContext(ctx, func() (LineBatch, error) {
		content, err := readDecoded(path)
		if err != nil {
			return LineBatch{}, err
		}
		lines := SplitLines(content, false)
		if offset > len(lines) {
			return LineBatch{Size: len(lines)}, &TruncatedError{Size: len(lines)}
		}
		return LineBatch{
			Lines:     lines[offset:],
			NewOffset: len(lines),
			Size:      len(lines),
		}, nil
	})
}

// ListDeathLogFiles returns death log file names in chronological order
func (r *FileReader) ListDeathLogFiles(ctx context.Context, server *domain.Server) ([]string, error) {
	dir := filepath.Join(server.Endpoint, server.DeathLogDir)
	return withContext(ctx, func() ([]string, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, wrapFSError(err, dir)
		}
		// ReadDir sorts by name and names embed their timestamp
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && deathLogNameRegex.MatchString(e.Name()) {
				names = append(names, e.Name())
			}
		}
		return names, nil
	})
}

// ReadFileContent returns the decoded content of a death log file
func (r *FileReader) ReadFileContent(ctx context.Context, server *domain.Server, filename string) (string, error) {
	if filename != filepath.Base(filename) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrNotFound, filename)
	}
	path := filepath.Join(server.Endpoint, server.DeathLogDir, filename)
	return withContext(ctx, func() (string, error) {
		return readDecoded(path)
	})
}

// readDecoded reads a whole file, inflating .gz archives and decoding UTF-16
// content (the game server writes UTF-16LE with a BOM)
func readDecoded(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", wrapFSError(err, path)
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return "", fmt.Errorf("opening gzip %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	decoded := transform.NewReader(src, unicode.BOMOverride(encoding.Nop.NewDecoder()))
	data, err := io.ReadAll(bufio.NewReader(decoded))
	if err != nil {
		return "", wrapFSError(err, path)
	}
	return string(data), nil
}

// SplitLines splits content on newlines, dropping carriage returns. A
// trailing line without a terminator is kept only when includePartial is
// set, for files that are no longer written to.
func SplitLines(content string, includePartial bool) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	last := lines[len(lines)-1]
	lines = lines[:len(lines)-1]
	if includePartial && last != "" {
		lines = append(lines, last)
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func wrapFSError(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnection, path, err)
}

// withContext runs fn and gives up when ctx ends first. Filesystem calls
// cannot be interrupted, so an abandoned fn finishes in the background.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}
