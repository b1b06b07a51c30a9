package domain

import (
	"fmt"
	"time"
)

// EventKind discriminates the Event variants
type EventKind string

// Event kinds
const (
	KindPlayerJoin     EventKind = "player_join"
	KindPlayerLeave    EventKind = "player_leave"
	KindPlayerKill     EventKind = "player_kill"
	KindPlayerDeath    EventKind = "player_death"
	KindAirdropStatus  EventKind = "airdrop_status"
	KindMissionStatus  EventKind = "mission_status"
	KindMissionRespawn EventKind = "mission_respawn"
	KindHeliCrash      EventKind = "heli_crash"
	KindTraderSpawn    EventKind = "trader_spawn"
	KindVehicleEvent   EventKind = "vehicle_event"
	KindGameplayEvent  EventKind = "gameplay_event"
)

// SourceType identifies which remote source a line came from
type SourceType string

const (
	SourceServerLog SourceType = "serverlog"
	SourceDeathLog  SourceType = "deathlog"
)

// Event is one classified line. The set of implementations is closed:
// only the types in this file satisfy it.
type Event interface {
	Kind() EventKind
	// Summary is a short human readable form used for event records
	Summary() string
	isEvent()
}

// Envelope carries an Event together with where and when it was observed
type Envelope struct {
	ServerID  string
	Source    SourceType
	Timestamp time.Time
	Line      int // zero-based line number within the read batch or file
	Event     Event
}

// PlayerJoin is emitted when a player connects
type PlayerJoin struct {
	Name string `json:"name"`
}

// PlayerLeave is emitted when a player disconnects
type PlayerLeave struct {
	Name string `json:"name"`
}

// PlayerKill is a player killing another player
type PlayerKill struct {
	Killer         string `json:"killer"`
	KillerID       string `json:"killer_id,omitempty"` // only known from death logs
	Victim         string `json:"victim"`
	VictimID       string `json:"victim_id,omitempty"`
	Weapon         string `json:"weapon"`
	DistanceMeters int    `json:"distance_meters"`
}

// PlayerDeath is a death that is not scored as a kill
type PlayerDeath struct {
	Player    string `json:"player"`
	PlayerID  string `json:"player_id,omitempty"`
	Cause     string `json:"cause"`
	IsSuicide bool   `json:"is_suicide"`
}

// AirdropStatus reports an airdrop state switch (Waiting, Dropped, Active, ...)
type AirdropStatus struct {
	Status string `json:"status"`
}

// MissionStatus reports a mission state switch (READY, ACTIVE, FAILED, ...)
type MissionStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// MissionRespawn reports when a mission becomes available again
type MissionRespawn struct {
	Name    string `json:"name"`
	Seconds int    `json:"seconds"`
}

// HeliCrash is a helicopter crash site spawning
type HeliCrash struct {
	Position string `json:"position"`
}

// TraderSpawn is a roaming trader spawning
type TraderSpawn struct {
	Position string `json:"position"`
}

// VehicleKind is the lifecycle step of a VehicleEvent
type VehicleKind string

const (
	VehicleSpawn  VehicleKind = "spawn"
	VehicleAdd    VehicleKind = "add"
	VehicleRemove VehicleKind = "remove"
)

// VehicleEvent reports vehicle spawns, additions and removals
type VehicleEvent struct {
	ID         string      `json:"id"`
	Action     VehicleKind `json:"kind"`
	TotalAfter int         `json:"total_after"`
}

// GameplayEvent is a gameplay event switch no specific rule recognised
type GameplayEvent struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

func (PlayerJoin) Kind() EventKind     { return KindPlayerJoin }
func (PlayerLeave) Kind() EventKind    { return KindPlayerLeave }
func (PlayerKill) Kind() EventKind     { return KindPlayerKill }
func (PlayerDeath) Kind() EventKind    { return KindPlayerDeath }
func (AirdropStatus) Kind() EventKind  { return KindAirdropStatus }
func (MissionStatus) Kind() EventKind  { return KindMissionStatus }
func (MissionRespawn) Kind() EventKind { return KindMissionRespawn }
func (HeliCrash) Kind() EventKind      { return KindHeliCrash }
func (TraderSpawn) Kind() EventKind    { return KindTraderSpawn }
func (VehicleEvent) Kind() EventKind   { return KindVehicleEvent }
func (GameplayEvent) Kind() EventKind  { return KindGameplayEvent }

func (PlayerJoin) isEvent()     {}
func (PlayerLeave) isEvent()    {}
func (PlayerKill) isEvent()     {}
func (PlayerDeath) isEvent()    {}
func (AirdropStatus) isEvent()  {}
func (MissionStatus) isEvent()  {}
func (MissionRespawn) isEvent() {}
func (HeliCrash) isEvent()      {}
func (TraderSpawn) isEvent()    {}
func (VehicleEvent) isEvent()   {}
func (GameplayEvent) isEvent()  {}

func (e PlayerJoin) Summary() string  { return e.Name + " connected" }
func (e PlayerLeave) Summary() string { return e.Name + " disconnected" }

func (e PlayerKill) Summary() string {
	return fmt.Sprintf("%s killed %s with %s at %dm", e.Killer, e.Victim, e.Weapon, e.DistanceMeters)
}

func (e PlayerDeath) Summary() string {
	if e.IsSuicide {
		return fmt.Sprintf("%s died (%s, suicide)", e.Player, e.Cause)
	}
	return fmt.Sprintf("%s died from %s", e.Player, e.Cause)
}

func (e AirdropStatus) Summary() string { return "airdrop " + e.Status }
func (e MissionStatus) Summary() string { return fmt.Sprintf("mission %s %s", e.Name, e.Status) }

func (e MissionRespawn) Summary() string {
	return fmt.Sprintf("mission %s respawns in %ds", e.Name, e.Seconds)
}

func (e HeliCrash) Summary() string   { return "helicopter crash at " + e.Position }
func (e TraderSpawn) Summary() string { return "roaming trader at " + e.Position }

func (e VehicleEvent) Summary() string {
	return fmt.Sprintf("vehicle %s %s (total %d)", e.ID, e.Action, e.TotalAfter)
}

func (e GameplayEvent) Summary() string {
	return fmt.Sprintf("gameplay event %s switched to %s", e.Name, e.State)
}

// EventRecord is a dispatched event as stored for the operator API
type EventRecord struct {
	ID         int64     `json:"id"`
	ServerID   string    `json:"server_id"`
	Source     string    `json:"source"`
	Kind       EventKind `json:"kind"`
	Summary    string    `json:"summary"`
	Announced  bool      `json:"announced"`
	OccurredAt time.Time `json:"occurred_at"`
}
