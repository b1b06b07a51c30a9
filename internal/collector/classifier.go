package collector

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

// MalformedLineError is returned for a line that matched a rule but could
// not be parsed. The line is skipped, the batch continues.
type MalformedLineError struct {
	Rule   string
	Line   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed %s line %q: %s", e.Rule, e.Line, e.Reason)
}

// Regular expressions for parsing server log lines
var (
	// Matches the Unreal prefix: [2025.04.10-00.00.00:000][ 12]
	unrealTimestampRegex = regexp.MustCompile(`^\[(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}):(\d{3})\]\[\s*\d+\]\s*`)
	logCategoryRegex     = regexp.MustCompile(`^LogSFPS:\s*`)

	loginRegex          = regexp.MustCompile(`^\[Login\] Player (.+?) connected$`)
	logoutRegex         = regexp.MustCompile(`^\[Logout\] Player (.+?) disconnected$`)
	killRegex           = regexp.MustCompile(`^\[Kill\] (.+?) killed (.+?) with (.+?) at distance (\S+)$`)
	deathRegex          = regexp.MustCompile(`^\[Death\] (.+?) died from (.+)$`)
	airdropRegex        = regexp.MustCompile(`^AirDrop switched to (\S+)$`)
	missionRespawnRegex = regexp.MustCompile(`^Mission (.+?) will respawn in (\S+)$`)
	missionFailRegex    = regexp.MustCompile(`^Mission (.+?) failed$`)
	missionStatusRegex  = regexp.MustCompile(`^Mission (.+?) switched to (\S+)$`)
	heliCrashRegex      = regexp.MustCompile(`^\[HelicrashManager\] GameplayEvent (.+?) switched to (\S+) at (.+)$`)
	traderSpawnRegex    = regexp.MustCompile(`^\[RoamingTraderManager\] GameplayEvent (.+?) switched to (\S+) at (.+)$`)
	vehicleRegex        = regexp.MustCompile(`^\[VehicleManager\] Vehicle (\S+) (spawned|added|removed)\. Total vehicles: (\S+)$`)
	gameplayEventRegex  = regexp.MustCompile(`^(?:\[\w+\] )?GameplayEvent (.+?) switched to (\S+)(?: at .+)?$`)
)

// rule is one entry of the ordered classification table
type rule struct {
	name    string
	pattern *regexp.Regexp
	build   func(m []string) (domain.Event, error)
}

// serverLogRules is evaluated top to bottom and the first match wins.
// Manager-tagged gameplay lines must precede the generic GameplayEvent rule,
// which would otherwise swallow them.
var serverLogRules = []rule{
	{"login", loginRegex, func(m []string) (domain.Event, error) {
		return domain.PlayerJoin{Name: m[1]}, nil
	}},
	{"logout", logoutRegex, func(m []string) (domain.Event, error) {
		return domain.PlayerLeave{Name: m[1]}, nil
	}},
	{"kill", killRegex, func(m []string) (domain.Event, error) {
		distance, err := parseDistance(m[4])
		if err != nil {
			return nil, err
		}
		killer, victim, weapon := m[1], m[2], m[3]
		if killer == victim || IsSuicideCause(weapon) {
			return domain.PlayerDeath{Player: victim, Cause: weapon, IsSuicide: true}, nil
		}
		return domain.PlayerKill{Killer: killer, Victim: victim, Weapon: weapon, DistanceMeters: distance}, nil
	}},
	{"death", deathRegex, func(m []string) (domain.Event, error) {
		return domain.PlayerDeath{Player: m[1], Cause: m[2], IsSuicide: IsSuicideCause(m[2])}, nil
	}},
	{"airdrop", airdropRegex, func(m []string) (domain.Event, error) {
		return domain.AirdropStatus{Status: m[1]}, nil
	}},
	{"mission_respawn", missionRespawnRegex, func(m []string) (domain.Event, error) {
		seconds, err := strconv.Atoi(m[2])
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("respawn seconds %q", m[2])
		}
		return domain.MissionRespawn{Name: m[1], Seconds: seconds}, nil
	}},
	{"mission_fail", missionFailRegex, func(m []string) (domain.Event, error) {
		return domain.MissionStatus{Name: m[1], Status: MissionFailed}, nil
	}},
	{"mission_status", missionStatusRegex, func(m []string) (domain.Event, error) {
		return domain.MissionStatus{Name: m[1], Status: m[2]}, nil
	}},
	{"heli_crash", heliCrashRegex, func(m []string) (domain.Event, error) {
		return domain.HeliCrash{Position: m[3]}, nil
	}},
	{"trader_spawn", traderSpawnRegex, func(m []string) (domain.Event, error) {
		return domain.TraderSpawn{Position: m[3]}, nil
	}},
	{"vehicle", vehicleRegex, func(m []string) (domain.Event, error) {
		total, err := strconv.Atoi(m[3])
		if err != nil || total < 0 {
			return nil, fmt.Errorf("vehicle total %q", m[3])
		}
		return domain.VehicleEvent{ID: m[1], Action: vehicleActions[m[2]], TotalAfter: total}, nil
	}},
	{"gameplay_event", gameplayEventRegex, func(m []string) (domain.Event, error) {
		return domain.GameplayEvent{Name: m[1], State: m[2]}, nil
	}},
}

// MissionFailed is the status reported for failed missions
const MissionFailed = "FAILED"

var vehicleActions = map[string]domain.VehicleKind{
	"spawned": domain.VehicleSpawn,
	"added":   domain.VehicleAdd,
	"removed": domain.VehicleRemove,
}

// suicideCauses is the closed set of weapons/causes that are never a kill
var suicideCauses = map[string]struct{}{
	"falling":               {},
	"drowning":              {},
	"bleeding":              {},
	"starvation":            {},
	"suicide_by_relocation": {},
}

// IsSuicideCause reports whether cause belongs to the suicide set. The
// compare is exact: the game logs these names in lower case.
func IsSuicideCause(cause string) bool {
	_, ok := suicideCauses[cause]
	return ok
}

// ClassifyServerLine classifies one server log line. It returns a nil event
// for lines no rule recognises. The timestamp is zero when the line has no
// Unreal prefix.
func ClassifyServerLine(line string) (domain.Event, time.Time, error) {
	content := strings.TrimSpace(line)

	var timestamp time.Time
	if match := unrealTimestampRegex.FindStringSubmatch(content); match != nil {
		if ts, err := parseUnrealTimestamp(match[1], match[2]); err == nil {
			timestamp = ts
		}
		content = content[len(match[0]):]
	}

	loc := logCategoryRegex.FindStringIndex(content)
	if loc == nil {
		return nil, timestamp, nil
	}
	content = content[loc[1]:]

	for _, r := range serverLogRules {
		match := r.pattern.FindStringSubmatch(content)
		if match == nil {
			continue
		}
		event, err := r.build(match)
		if err != nil {
			return nil, timestamp, &MalformedLineError{Rule: r.name, Line: line, Reason: err.Error()}
		}
		return event, timestamp, nil
	}
	return nil, timestamp, nil
}

// RuleNames lists the classification rules in evaluation order
func RuleNames() []string {
	names := make([]string, len(serverLogRules))
	for i, r := range serverLogRules {
		names[i] = r.name
	}
	return names
}

func parseUnrealTimestamp(stamp, millis string) (time.Time, error) {
	ts, err := time.ParseInLocation("2006.01.02-15.04.05", stamp, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.Atoi(millis)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Add(time.Duration(ms) * time.Millisecond), nil
}

// parseDistance accepts integer or decimal meters and rounds to whole meters
func parseDistance(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("distance %q", s)
	}
	return int(f + 0.5), nil
}
