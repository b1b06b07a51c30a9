package collector

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

func TestClassifyServerLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want domain.Event
	}{
		{"login", "LogSFPS: [Login] Player Bob connected", domain.PlayerJoin{Name: "Bob"}},
		{"login with spaces", "LogSFPS: [Login] Player Big Bob connected", domain.PlayerJoin{Name: "Big Bob"}},
		{"logout", "LogSFPS: [Logout] Player Bob disconnected", domain.PlayerLeave{Name: "Bob"}},
		{"kill", "LogSFPS: [Kill] PlayerB killed PlayerA with AK74 at distance 150",
			domain.PlayerKill{Killer: "PlayerB", Victim: "PlayerA", Weapon: "AK74", DistanceMeters: 150}},
		{"kill decimal distance", "LogSFPS: [Kill] B killed A with M9 at distance 12.6",
			domain.PlayerKill{Killer: "B", Victim: "A", Weapon: "M9", DistanceMeters: 13}},
		{"death by cause", "LogSFPS: [Death] PlayerA died from zombie",
			domain.PlayerDeath{Player: "PlayerA", Cause: "zombie"}},
		{"death by suicide cause", "LogSFPS: [Death] PlayerA died from falling",
			domain.PlayerDeath{Player: "PlayerA", Cause: "falling", IsSuicide: true}},
		{"self kill", "LogSFPS: [Kill] Self killed Self with AK74 at distance 0",
			domain.PlayerDeath{Player: "Self", Cause: "AK74", IsSuicide: true}},
		{"kill with suicide weapon", "LogSFPS: [Kill] Jumper killed Other with falling at distance 0",
			domain.PlayerDeath{Player: "Other", Cause: "falling", IsSuicide: true}},
		{"airdrop waiting", "LogSFPS: AirDrop switched to Waiting", domain.AirdropStatus{Status: "Waiting"}},
		{"airdrop closed", "LogSFPS: AirDrop switched to Closed", domain.AirdropStatus{Status: "Closed"}},
		{"mission status", "LogSFPS: Mission Bunker_A1 switched to READY", domain.MissionStatus{Name: "Bunker_A1", Status: "READY"}},
		{"mission respawn", "LogSFPS: Mission Bunker_A1 will respawn in 300", domain.MissionRespawn{Name: "Bunker_A1", Seconds: 300}},
		{"mission fail", "LogSFPS: Mission Bunker_A1 failed", domain.MissionStatus{Name: "Bunker_A1", Status: MissionFailed}},
		{"heli crash", "LogSFPS: [HelicrashManager] GameplayEvent Helicrash_3 switched to ACTIVE at X=1.0 Y=2.0 Z=3.0",
			domain.HeliCrash{Position: "X=1.0 Y=2.0 Z=3.0"}},
		{"trader", "LogSFPS: [RoamingTraderManager] GameplayEvent Trader_1 switched to ACTIVE at X=5 Y=6 Z=7",
			domain.TraderSpawn{Position: "X=5 Y=6 Z=7"}},
		{"vehicle spawned", "LogSFPS: [VehicleManager] Vehicle BP_Quad_01 spawned. Total vehicles: 41",
			domain.VehicleEvent{ID: "BP_Quad_01", Action: domain.VehicleSpawn, TotalAfter: 41}},
		{"vehicle removed", "LogSFPS: [VehicleManager] Vehicle 1234 removed. Total vehicles: 40",
			domain.VehicleEvent{ID: "1234", Action: domain.VehicleRemove, TotalAfter: 40}},
		{"generic gameplay event", "LogSFPS: GameplayEvent Horde_2 switched to ACTIVE",
			domain.GameplayEvent{Name: "Horde_2", State: "ACTIVE"}},
		{"other manager gameplay event", "LogSFPS: [HordeManager] GameplayEvent Horde_2 switched to ACTIVE at X=1",
			domain.GameplayEvent{Name: "Horde_2", State: "ACTIVE"}},
		{"unrelated category", "LogNet: [Login] Player Bob connected", nil},
		{"unrecognised", "LogSFPS: Something else happened", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := ClassifyServerLine(tt.line)
			if err != nil {
				t.Fatalf("ClassifyServerLine(%q) error: %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ClassifyServerLine(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestClassifyServerLineTimestamp(t *testing.T) {
	line := "[2025.04.10-00.05.30:250][ 12]LogSFPS: AirDrop switched to Dropped"
	ev, ts, err := ClassifyServerLine(line)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if ev != (domain.AirdropStatus{Status: "Dropped"}) {
		t.Errorf("event = %#v", ev)
	}
	want := time.Date(2025, 4, 10, 0, 5, 30, 250*int(time.Millisecond), time.UTC)
	if !ts.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ts, want)
	}

	if _, ts, _ := ClassifyServerLine("LogSFPS: AirDrop switched to Dropped"); !ts.IsZero() {
		t.Errorf("timestamp without prefix = %v, want zero", ts)
	}
}

func TestClassifyServerLineMalformed(t *testing.T) {
	lines := []string{
		"LogSFPS: [Kill] B killed A with M9 at distance far",
		"LogSFPS: [Kill] A killed A with M9 at distance far",
		"LogSFPS: Mission Bunker will respawn in soon",
		"LogSFPS: [VehicleManager] Vehicle 12 added. Total vehicles: many",
	}
	for _, line := range lines {
		ev, _, err := ClassifyServerLine(line)
		var malformed *MalformedLineError
		if !errors.As(err, &malformed) {
			t.Errorf("ClassifyServerLine(%q) err = %v, want *MalformedLineError", line, err)
		}
		if ev != nil {
			t.Errorf("ClassifyServerLine(%q) returned event %#v with error", line, ev)
		}
	}
}

func TestClassifierRuleOrder(t *testing.T) {
	names := RuleNames()
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	before := [][2]string{
		{"heli_crash", "gameplay_event"},
		{"trader_spawn", "gameplay_event"},
		{"mission_respawn", "mission_status"},
		{"mission_fail", "mission_status"},
		{"kill", "death"},
	}
	for _, pair := range before {
		if index[pair[0]] >= index[pair[1]] {
			t.Errorf("rule %s must precede %s (order %v)", pair[0], pair[1], names)
		}
	}

	// The generic rule alone would also accept manager-tagged lines
	line := "[HelicrashManager] GameplayEvent Helicrash_3 switched to ACTIVE at X=1"
	if !gameplayEventRegex.MatchString(line) {
		t.Fatal("generic rule should overlap the helicrash rule")
	}
	ev, _, _ := ClassifyServerLine("LogSFPS: " + line)
	if _, ok := ev.(domain.HeliCrash); !ok {
		t.Errorf("overlapping line classified as %T, want HeliCrash", ev)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	line := "LogSFPS: [Kill] PlayerB killed PlayerA with AK74 at distance 150"
	first, _, _ := ClassifyServerLine(line)
	for i := 0; i < 5; i++ {
		again, _, _ := ClassifyServerLine(line)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("classification changed between calls: %#v vs %#v", first, again)
		}
	}
}

func TestIsSuicideCause(t *testing.T) {
	for _, cause := range []string{"falling", "drowning", "bleeding", "starvation", "suicide_by_relocation"} {
		if !IsSuicideCause(cause) {
			t.Errorf("IsSuicideCause(%q) = false", cause)
		}
	}
	for _, cause := range []string{"AK74", "fall", "zombie", "", "suicide", "FALLING", " falling"} {
		if IsSuicideCause(cause) {
			t.Errorf("IsSuicideCause(%q) = true", cause)
		}
	}
}
