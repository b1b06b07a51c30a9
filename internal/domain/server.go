package domain

import "time"

// Server represents a registered game server and where its logs live
type Server struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Endpoint        string    `json:"endpoint"`                   // opaque to the pipeline, interpreted by the reader
	LogPath         string    `json:"log_path,omitempty"`         // server log, relative to Endpoint
	DeathLogDir     string    `json:"death_log_dir,omitempty"`    // death log directory, relative to Endpoint
	LogChannel      string    `json:"log_channel,omitempty"`      // server events destination
	KillfeedChannel string    `json:"killfeed_channel,omitempty"` // kill/death destination
	CreatedAt       time.Time `json:"created_at"`
}

// HasServerLog reports whether a server log source is configured
func (s Server) HasServerLog() bool { return s.LogPath != "" }

// HasDeathLog reports whether a death log source is configured
func (s Server) HasDeathLog() bool { return s.DeathLogDir != "" }

// Cursor is the read position of one source of one server
type Cursor struct {
	ServerID      string     `json:"server_id"`
	Source        SourceType `json:"source"`
	Offset        int        `json:"line_offset"`
	File          string     `json:"file,omitempty"` // death log file the offset applies to
	LastProcessed time.Time  `json:"last_processed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at,omitempty"`
}

// CursorStatus is the operator view of a server's ingestion state
type CursorStatus struct {
	ServerLog      Cursor   `json:"server_log"`
	DeathLog       Cursor   `json:"death_log"`
	ProcessedFiles []string `json:"processed_files"`
}
