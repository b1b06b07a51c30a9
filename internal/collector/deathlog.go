package collector

import (
	"regexp"
	"strings"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

// DeathLogTimeLayout is the timestamp format of death log lines (UTC)
const DeathLogTimeLayout = "2006.01.02-15.04.05"

// deathLogLineRegex is the structural check applied before any field is
// interpreted: timestamp;victim;victimId;killer;killerId;weapon;distance;
var deathLogLineRegex = regexp.MustCompile(
	`^(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2});([^;]+);([^;]*);([^;]+);([^;]*);([^;]+);([^;]*);$`)

// ParseDeathLogLine parses one death log line into a PlayerKill or, for
// suicides, a PlayerDeath. Lines failing the structural check are rejected
// as a whole with a *MalformedLineError.
func ParseDeathLogLine(line string) (domain.Event, time.Time, error) {
	content := strings.TrimSpace(line)
	match := deathLogLineRegex.FindStringSubmatch(content)
	if match == nil {
		return nil, time.Time{}, &MalformedLineError{Rule: "deathlog", Line: line, Reason: "expected 7 ';' terminated fields"}
	}

	timestamp, err := time.ParseInLocation(DeathLogTimeLayout, match[1], time.UTC)
	if err != nil {
		return nil, time.Time{}, &MalformedLineError{Rule: "deathlog", Line: line, Reason: "invalid timestamp " + match[1]}
	}

	victim, victimID := match[2], match[3]
	killer, killerID := match[4], match[5]
	weapon := match[6]

	distance, err := parseDistance(match[7])
	if err != nil {
		return nil, timestamp, &MalformedLineError{Rule: "deathlog", Line: line, Reason: err.Error()}
	}

	if victim == killer || IsSuicideCause(weapon) {
		return domain.PlayerDeath{
			Player:    victim,
			PlayerID:  victimID,
			Cause:     weapon,
			IsSuicide: true,
		}, timestamp, nil
	}
	return domain.PlayerKill{
		Killer:         killer,
		KillerID:       killerID,
		Victim:         victim,
		VictimID:       victimID,
		Weapon:         weapon,
		DistanceMeters: distance,
	}, timestamp, nil
}
