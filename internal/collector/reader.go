package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/ernie/killfeed/internal/domain"
)

// Transient read failures. The sweeper logs them and retries next tick.
var (
	ErrNotFound   = errors.New("remote file not found")
	ErrConnection = errors.New("remote connection failed")
	ErrTruncated  = errors.New("remote file truncated")
)

// TruncatedError reports that the remote file holds fewer lines than the
// requested offset, which means it was rotated or truncated.
type TruncatedError struct {
	Size int // complete lines currently in the file
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("remote file truncated to %d lines", e.Size)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncated }

// LineBatch is the result of an incremental read
type LineBatch struct {
	Lines     []string
	NewOffset int // offset after the last complete line in Lines
	Size      int // complete lines in the remote file
}

// LogReader reads a server's remote sources. Offsets are line counts and a
// trailing line without a terminator is never returned.
type LogReader interface {
	ReadLinesSince(ctx context.Context, server *domain.Server, offset int) (LineBatch, error)
	ListDeathLogFiles(ctx context.Context, server *domain.Server) ([]string, error)
	ReadFileContent(ctx context.Context, server *domain.Server, filename string) (string, error)
}
