package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ernie/killfeed/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrServerNotFound is returned when no server matches the given ID or name
var ErrServerNotFound = errors.New("server not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Server methods ---

const serverColumns = `id, name, endpoint, log_path, death_log_dir, log_channel, killfeed_channel, created_at`

// CreateServer registers a new server, assigning a stable ID when none is set
func (s *Store) CreateServer(ctx context.Context, srv *domain.Server) error {
	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, srv.ID, srv.Name, srv.Endpoint, srv.LogPath, srv.DeathLogDir, srv.LogChannel, srv.KillfeedChannel, formatTimestamp(srv.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating server %q: %w", srv.Name, err)
	}
	return nil
}

// UpsertServerByName creates a server or updates the source settings of the
// server with the same name. The stable ID of an existing server is kept.
func (s *Store) UpsertServerByName(ctx context.Context, srv *domain.Server) error {
	existing, err := s.GetServerByName(ctx, srv.Name)
	if errors.Is(err, ErrServerNotFound) {
		return s.CreateServer(ctx, srv)
	}
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE servers SET endpoint = ?, log_path = ?, death_log_dir = ?, log_channel = ?, killfeed_channel = ?
		WHERE id = ?
	`, srv.Endpoint, srv.LogPath, srv.DeathLogDir, srv.LogChannel, srv.KillfeedChannel, existing.ID)
	if err != nil {
		return fmt.Errorf("updating server %q: %w", srv.Name, err)
	}
	srv.ID = existing.ID
	srv.CreatedAt = existing.CreatedAt
	return nil
}

// GetServers returns all servers
func (s *Store) GetServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// GetServerByID returns a server by its stable ID
func (s *Store) GetServerByID(ctx context.Context, id string) (*domain.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServerNotFound
	}
	return srv, err
}

// GetServerByName returns a server by display name
func (s *Store) GetServerByName(ctx context.Context, name string) (*domain.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServerNotFound
	}
	return srv, err
}

// UpdateChannels changes the notification destinations of a server
func (s *Store) UpdateChannels(ctx context.Context, id, logChannel, killfeedChannel string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE servers SET log_channel = ?, killfeed_channel = ? WHERE id = ?
	`, logChannel, killfeedChannel, id)
	if err != nil {
		return fmt.Errorf("updating channels: %w", err)
	}
	return requireAffected(result)
}

// DeleteServer deregisters a server; cursors, processed files and event
// records go with it
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServerNotFound
	}
	return nil
}

// --- Cursor methods ---

// LoadCursor returns the stored cursor, or a zero cursor when none exists
func (s *Store) LoadCursor(ctx context.Context, serverID string, source domain.SourceType) (domain.Cursor, error) {
	c := domain.Cursor{ServerID: serverID, Source: source}
	var lastProcessed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT line_offset, file, last_processed_at, updated_at
		FROM cursors WHERE server_id = ? AND source = ?
	`, serverID, string(source)).Scan(&c.Offset, &c.File, &lastProcessed, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("loading cursor: %w", err)
	}
	if t := scanNullTime(lastProcessed); t != nil {
		c.LastProcessed = *t
	}
	return c, nil
}

// SaveCursor writes the full cursor state in one statement
func (s *Store) SaveCursor(ctx context.Context, c domain.Cursor) error {
	var lastProcessed interface{}
	if !c.LastProcessed.IsZero() {
		lastProcessed = formatTimestamp(c.LastProcessed)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (server_id, source, line_offset, file, last_processed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, source) DO UPDATE SET
			line_offset = excluded.line_offset,
			file = excluded.file,
			last_processed_at = excluded.last_processed_at,
			updated_at = excluded.updated_at
	`, c.ServerID, string(c.Source), c.Offset, c.File, lastProcessed, formatTimestamp(updated))
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// LoadProcessedFiles returns the processed death log files in filename order
func (s *Store) LoadProcessedFiles(ctx context.Context, serverID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename FROM processed_files WHERE server_id = ? ORDER BY filename
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("loading processed files: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, rows.Err()
}

// AddProcessedFile records a death log file as fully ingested
func (s *Store) AddProcessedFile(ctx context.Context, serverID, filename string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_files (server_id, filename, processed_at) VALUES (?, ?, ?)
		ON CONFLICT(server_id, filename) DO NOTHING
	`, serverID, filename, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("adding processed file: %w", err)
	}
	return nil
}

// LoadProcessedFloor returns the newest filename dropped by a prune, or ""
func (s *Store) LoadProcessedFloor(ctx context.Context, serverID string) (string, error) {
	var floor string
	err := s.db.QueryRowContext(ctx, `
		SELECT filename FROM processed_floor WHERE server_id = ?
	`, serverID).Scan(&floor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading processed floor: %w", err)
	}
	return floor, nil
}

// KeepProcessedFiles removes every processed file of the server not in keep
// and raises the processed floor to floor in the same transaction
func (s *Store) KeepProcessedFiles(ctx context.Context, serverID string, keep []string, floor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS keep_files (filename TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating keep table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM keep_files`); err != nil {
		return err
	}
	for _, name := range keep {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO keep_files (filename) VALUES (?)`, name); err != nil {
			return fmt.Errorf("staging kept file: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processed_files
		WHERE server_id = ? AND filename NOT IN (SELECT filename FROM keep_files)
	`, serverID); err != nil {
		return fmt.Errorf("pruning processed files: %w", err)
	}
	if floor != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processed_floor (server_id, filename) VALUES (?, ?)
			ON CONFLICT(server_id) DO UPDATE SET
				filename = CASE WHEN excluded.filename > processed_floor.filename
					THEN excluded.filename ELSE processed_floor.filename END
		`, serverID, floor); err != nil {
			return fmt.Errorf("raising processed floor: %w", err)
		}
	}
	return tx.Commit()
}

// --- Player stat methods ---

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ScoreKill credits one kill and reward to killer and one death to victim
// in a single transaction, so a failed line leaves no partial score behind
func (s *Store) ScoreKill(ctx context.Context, killer, victim domain.PlayerRef, reward int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := bumpStat(ctx, tx, killer, "kills", 1); err != nil {
		return err
	}
	if reward > 0 {
		if err := bumpStat(ctx, tx, killer, "currency", reward); err != nil {
			return err
		}
	}
	if err := bumpStat(ctx, tx, victim, "deaths", 1); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing kill: %w", err)
	}
	return nil
}

// IncrementDeaths adds one death to the player's counter
func (s *Store) IncrementDeaths(ctx context.Context, player domain.PlayerRef) error {
	return bumpStat(ctx, s.db, player, "deaths", 1)
}

// bumpStat upserts the player row and adds delta to one counter.
// column is never user input.
func bumpStat(ctx context.Context, db execer, player domain.PlayerRef, column string, delta int64) error {
	switch column {
	case "kills", "deaths", "currency":
	default:
		return fmt.Errorf("unknown stat column %q", column)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO players (player_key, name, `+column+`, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_key) DO UPDATE SET
			`+column+` = players.`+column+` + excluded.`+column+`,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE players.name END,
			updated_at = excluded.updated_at
	`, player.Key(), player.Name, delta, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("updating %s for %s: %w", column, player.Key(), err)
	}
	return nil
}

// GetPlayerStats returns the counters for one player key
func (s *Store) GetPlayerStats(ctx context.Context, key string) (*domain.PlayerStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT player_key, name, kills, deaths, currency, updated_at FROM players WHERE player_key = ?
	`, key)
	return scanPlayerStats(row)
}

// GetLeaderboard returns the top players ordered by category
func (s *Store) GetLeaderboard(ctx context.Context, category string, limit int) ([]domain.PlayerStats, error) {
	order, ok := leaderboardOrder[category]
	if !ok {
		return nil, fmt.Errorf("invalid leaderboard category %q", category)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT player_key, name, kills, deaths, currency, updated_at
		FROM players ORDER BY `+order+`, name LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.PlayerStats
	for rows.Next() {
		ps, err := scanPlayerStats(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, *ps)
	}
	return stats, rows.Err()
}

var leaderboardOrder = map[string]string{
	"kills":    "kills DESC",
	"deaths":   "deaths DESC",
	"currency": "currency DESC",
	"kd_ratio": "CAST(kills AS REAL) / MAX(deaths, 1) DESC",
}

// --- Event record methods ---

// RecordEvent stores a dispatched event for the operator API
func (s *Store) RecordEvent(ctx context.Context, rec domain.EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_events (server_id, source, kind, summary, announced, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ServerID, rec.Source, string(rec.Kind), rec.Summary, rec.Announced, formatTimestamp(rec.OccurredAt))
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// GetRecentEvents returns the newest recorded events of a server
func (s *Store) GetRecentEvents(ctx context.Context, serverID string, limit int) ([]domain.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_id, source, kind, summary, announced, occurred_at
		FROM server_events WHERE server_id = ?
		ORDER BY occurred_at DESC, id DESC LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.EventRecord
	for rows.Next() {
		var rec domain.EventRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.ServerID, &rec.Source, &kind, &rec.Summary, &rec.Announced, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.Kind = domain.EventKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteEventsBefore removes event records older than cutoff
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM server_events WHERE occurred_at < ?`, formatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting expired events: %w", err)
	}
	return result.RowsAffected()
}
