package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ernie/killfeed/internal/config"
	"github.com/ernie/killfeed/internal/cursor"
	"github.com/ernie/killfeed/internal/dispatch"
	"github.com/ernie/killfeed/internal/domain"
)

// ServerLister returns the registered servers. storage.Store implements it.
type ServerLister interface {
	GetServers(ctx context.Context) ([]domain.Server, error)
}

// Sweeper runs the periodic server log and death log sweeps
type Sweeper struct {
	cfg        config.SweepConfig
	servers    ServerLister
	reader     LogReader
	cursors    *cursor.Store
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	guard      *guard

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. Zero config values fall back to defaults.
func NewSweeper(cfg config.SweepConfig, servers ServerLister, reader LogReader, cursors *cursor.Store, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Sweeper {
	if cfg.ServerLogInterval <= 0 {
		cfg.ServerLogInterval = config.DefaultSweepInterval
	}
	if cfg.DeathLogInterval <= 0 {
		cfg.DeathLogInterval = config.DefaultSweepInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:        cfg,
		servers:    servers,
		reader:     reader,
		cursors:    cursors,
		dispatcher: dispatcher,
		logger:     logger,
		guard:      newGuard(),
	}
}

// Start runs an initial sweep of both sources and then one ticker per source
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.tickLoop(ctx, domain.SourceServerLog, s.cfg.ServerLogInterval, s.SweepServerLogs)
	go s.tickLoop(ctx, domain.SourceDeathLog, s.cfg.DeathLogInterval, s.SweepDeathLogs)

	s.logger.Info("sweeper started",
		"server_log_interval", s.cfg.ServerLogInterval,
		"death_log_interval", s.cfg.DeathLogInterval,
		"workers", s.cfg.Workers)
}

// Stop cancels running sweeps and waits for them to return
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.logger.Info("sweeper stopped")
	})
}

// tickLoop launches each sweep in its own goroutine so a slow server never
// delays the next tick for the others. The guard skips servers still busy.
func (s *Sweeper) tickLoop(ctx context.Context, source domain.SourceType, interval time.Duration, sweep func(context.Context) error) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "source", source, "error", err)
			}
		}()
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// SweepServerLogs reads, classifies and dispatches new server log lines of
// every registered server
func (s *Sweeper) SweepServerLogs(ctx context.Context) error {
	return s.sweepAll(ctx, domain.SourceServerLog, domain.Server.HasServerLog, s.sweepServerLog)
}

// SweepDeathLogs ingests new death log files and lines of every registered
// server
func (s *Sweeper) SweepDeathLogs(ctx context.Context) error {
	return s.sweepAll(ctx, domain.SourceDeathLog, domain.Server.HasDeathLog, s.sweepDeathLog)
}

// sweepAll fans out over the servers on a bounded pool. Per-server errors
// are logged and never fail the group.
func (s *Sweeper) sweepAll(ctx context.Context, source domain.SourceType, enabled func(domain.Server) bool, sweepOne func(context.Context, *domain.Server) error) error {
	servers, err := s.servers.GetServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range servers {
		srv := &servers[i]
		if !enabled(*srv) {
			continue
		}
		g.Go(func() error {
			s.runGuarded(ctx, srv, source, sweepOne)
			return nil
		})
	}
	return g.Wait()
}

func (s *Sweeper) runGuarded(ctx context.Context, srv *domain.Server, source domain.SourceType, sweepOne func(context.Context, *domain.Server) error) {
	key := srv.ID + "/" + string(source)
	if !s.guard.tryAcquire(key) {
		s.logger.Debug("previous sweep still running, skipping", "server", srv.Name, "source", source)
		return
	}
	defer s.guard.release(key)

	err := sweepOne(ctx, srv)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("remote read timed out, retrying next tick", "server", srv.Name, "source", source)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConnection):
		s.logger.Warn("remote read failed", "server", srv.Name, "source", source, "error", err)
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("sweep failed", "server", srv.Name, "source", source, "error", err)
	}
}

func (s *Sweeper) sweepServerLog(ctx context.Context, srv *domain.Server) error {
	offset, err := s.cursors.Offset(ctx, srv.ID, domain.SourceServerLog)
	if err != nil {
		return err
	}

	batch, err := s.readLines(ctx, srv, offset)
	var truncated *TruncatedError
	size := batch.Size
	if errors.As(err, &truncated) {
		size = truncated.Size
	}
	if err == nil || truncated != nil {
		rotated, rerr := s.cursors.DetectRotation(ctx, srv.ID, domain.SourceServerLog, size)
		if rerr != nil {
			return rerr
		}
		if rotated {
			s.logger.Info("server log rotated, reading from start",
				"server", srv.Name, "size", size, "offset", offset)
			if err := s.cursors.ResetOffset(ctx, srv.ID, domain.SourceServerLog); err != nil {
				return err
			}
			offset = 0
			batch, err = s.readLines(ctx, srv, 0)
		}
	}
	if err != nil {
		return err
	}

	b := s.dispatcher.Begin(srv)
	committed := batch.NewOffset
	var dispatchErr error
	for i, line := range batch.Lines {
		if err := s.dispatchServerLine(ctx, b, srv, offset+i, line); err != nil {
			committed = offset + i
			dispatchErr = err
			break
		}
	}

	if committed > offset {
		if err := s.cursors.CommitOffset(ctx, srv.ID, domain.SourceServerLog, committed); err != nil {
			return err
		}
	}
	b.Flush(ctx)

	if dispatchErr != nil {
		return fmt.Errorf("server log line %d: %w", committed, dispatchErr)
	}
	if n := len(batch.Lines); n > 0 {
		s.logger.Debug("server log swept", "server", srv.Name, "lines", n, "offset", committed)
	}
	return nil
}

func (s *Sweeper) dispatchServerLine(ctx context.Context, b *dispatch.Batch, srv *domain.Server, lineNo int, line string) error {
	event, ts, err := ClassifyServerLine(line)
	if err != nil {
		s.logger.Warn("skipping malformed line", "server", srv.Name, "line", lineNo, "error", err)
		return nil
	}
	if event == nil {
		return nil
	}
	return b.Dispatch(ctx, domain.Envelope{
		ServerID:  srv.ID,
		Source:    domain.SourceServerLog,
		Timestamp: ts,
		Line:      lineNo,
		Event:     event,
	})
}

func (s *Sweeper) sweepDeathLog(ctx context.Context, srv *domain.Server) error {
	files, err := s.listDeathLogs(ctx, srv)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	cur, err := s.cursors.Cursor(ctx, srv.ID, domain.SourceDeathLog)
	if err != nil {
		return err
	}
	watermark := cur.LastProcessed
	newest := files[len(files)-1]

	b := s.dispatcher.Begin(srv)
	defer b.Flush(ctx)

	for _, name := range files {
		done, err := s.cursors.IsProcessed(ctx, srv.ID, name)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		resume := 0
		if cur.File == name {
			resume = cur.Offset
		}
		next, err := s.sweepDeathLogFile(ctx, b, srv, name, name == newest, resume, watermark)
		if next.After(watermark) {
			watermark = next
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sweepDeathLogFile dispatches the lines of one death log file from resume
// onward and commits progress. The newest file may still grow, so it is
// tracked by line offset instead of being marked processed. It returns the
// newest timestamp dispatched.
func (s *Sweeper) sweepDeathLogFile(ctx context.Context, b *dispatch.Batch, srv *domain.Server, name string, growing bool, resume int, watermark time.Time) (time.Time, error) {
	content, err := s.readFile(ctx, srv, name)
	if err != nil {
		return time.Time{}, err
	}
	lines := SplitLines(content, !growing)

	if resume > len(lines) {
		s.logger.Info("death log shrank, reading from start", "server", srv.Name, "file", name,
			"lines", len(lines), "offset", resume)
		if err := s.cursors.ResetOffset(ctx, srv.ID, domain.SourceDeathLog); err != nil {
			return time.Time{}, err
		}
		resume = 0
	}

	var newestTS time.Time
	committed := len(lines)
	var dispatchErr error
	for i := resume; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		event, ts, err := ParseDeathLogLine(line)
		if err != nil {
			s.logger.Warn("skipping malformed death log line", "server", srv.Name, "file", name, "line", i, "error", err)
			continue
		}
		if ts.Before(watermark) {
			continue
		}
		err = b.Dispatch(ctx, domain.Envelope{
			ServerID:  srv.ID,
			Source:    domain.SourceDeathLog,
			Timestamp: ts,
			Line:      i,
			Event:     event,
		})
		if err != nil {
			committed = i
			dispatchErr = err
			break
		}
		if ts.After(newestTS) {
			newestTS = ts
		}
	}

	if !newestTS.IsZero() {
		if err := s.cursors.AdvanceLastProcessed(ctx, srv.ID, newestTS); err != nil {
			return time.Time{}, err
		}
	}

	if dispatchErr != nil || growing {
		if committed != resume {
			if err := s.cursors.CommitFileOffset(ctx, srv.ID, domain.SourceDeathLog, name, committed); err != nil {
				return newestTS, err
			}
		}
		if dispatchErr != nil {
			return newestTS, fmt.Errorf("death log %s line %d: %w", name, committed, dispatchErr)
		}
		return newestTS, nil
	}

	if err := s.cursors.MarkProcessed(ctx, srv.ID, name); err != nil {
		return newestTS, err
	}
	s.logger.Debug("death log processed", "server", srv.Name, "file", name, "lines", len(lines)-resume)
	return newestTS, nil
}

func (s *Sweeper) readLines(ctx context.Context, srv *domain.Server, offset int) (LineBatch, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	return s.reader.ReadLinesSince(ctx, srv, offset)
}

func (s *Sweeper) listDeathLogs(ctx context.Context, srv *domain.Server) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	return s.reader.ListDeathLogFiles(ctx, srv)
}

func (s *Sweeper) readFile(ctx context.Context, srv *domain.Server, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	return s.reader.ReadFileContent(ctx, srv, name)
}
