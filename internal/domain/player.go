package domain

import "time"

// PlayerRef identifies a player for stat mutation.
// Death logs carry a platform ID, the server log only a name.
type PlayerRef struct {
	ID   string
	Name string
}

// Key returns the stable stats key for the player
func (p PlayerRef) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return "name:" + p.Name
}

// PlayerStats holds the counters this pipeline maintains for a player
type PlayerStats struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Kills     int64     `json:"kills"`
	Deaths    int64     `json:"deaths"`
	Currency  int64     `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KDRatio returns kills per death, or kills when the player never died
func (p PlayerStats) KDRatio() float64 {
	if p.Deaths == 0 {
		return float64(p.Kills)
	}
	return float64(p.Kills) / float64(p.Deaths)
}
