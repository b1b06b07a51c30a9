package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanServer scans a server row selected with serverColumns
func scanServer(row scanner) (*domain.Server, error) {
	var srv domain.Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.Endpoint, &srv.LogPath, &srv.DeathLogDir,
		&srv.LogChannel, &srv.KillfeedChannel, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// scanPlayerStats scans a players row
func scanPlayerStats(row scanner) (*domain.PlayerStats, error) {
	var ps domain.PlayerStats
	if err := row.Scan(&ps.Key, &ps.Name, &ps.Kills, &ps.Deaths, &ps.Currency, &ps.UpdatedAt); err != nil {
		return nil, err
	}
	return &ps, nil
}
