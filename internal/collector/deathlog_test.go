package collector

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

func TestParseDeathLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want domain.Event
		ts   time.Time
	}{
		{
			name: "kill",
			line: "2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;150;",
			want: domain.PlayerKill{Killer: "PlayerB", KillerID: "456", Victim: "PlayerA", VictimID: "123", Weapon: "AK74", DistanceMeters: 150},
			ts:   time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "self kill",
			line: "2025.04.10-00.05.00;PlayerC;789;PlayerC;789;falling;0;",
			want: domain.PlayerDeath{Player: "PlayerC", PlayerID: "789", Cause: "falling", IsSuicide: true},
			ts:   time.Date(2025, 4, 10, 0, 5, 0, 0, time.UTC),
		},
		{
			name: "suicide weapon with other killer",
			line: "2025.04.10-00.06.00;PlayerC;789;PlayerD;111;drowning;0;",
			want: domain.PlayerDeath{Player: "PlayerC", PlayerID: "789", Cause: "drowning", IsSuicide: true},
			ts:   time.Date(2025, 4, 10, 0, 6, 0, 0, time.UTC),
		},
		{
			name: "unknown weapon is a kill",
			line: "2025.04.10-00.07.00;PlayerC;789;PlayerD;111;Improvised_Crossbow;33;",
			want: domain.PlayerKill{Killer: "PlayerD", KillerID: "111", Victim: "PlayerC", VictimID: "789", Weapon: "Improvised_Crossbow", DistanceMeters: 33},
			ts:   time.Date(2025, 4, 10, 0, 7, 0, 0, time.UTC),
		},
		{
			name: "suicide set is case sensitive",
			line: "2025.04.10-00.08.00;PlayerC;789;PlayerD;111;FALLING;2;",
			want: domain.PlayerKill{Killer: "PlayerD", KillerID: "111", Victim: "PlayerC", VictimID: "789", Weapon: "FALLING", DistanceMeters: 2},
			ts:   time.Date(2025, 4, 10, 0, 8, 0, 0, time.UTC),
		},
		{
			name: "crlf terminated",
			line: "2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;150;\r",
			want: domain.PlayerKill{Killer: "PlayerB", KillerID: "456", Victim: "PlayerA", VictimID: "123", Weapon: "AK74", DistanceMeters: 150},
			ts:   time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ts, err := ParseDeathLogLine(tt.line)
			if err != nil {
				t.Fatalf("ParseDeathLogLine error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("event = %#v, want %#v", got, tt.want)
			}
			if !ts.Equal(tt.ts) {
				t.Errorf("timestamp = %v, want %v", ts, tt.ts)
			}
		})
	}
}

func TestParseDeathLogLineRejectsStructure(t *testing.T) {
	lines := []string{
		"2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;150",    // missing trailing delimiter
		"2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;150;x;", // extra field
		"2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;",       // too few fields
		"2025-04-10 00:00:00;PlayerA;123;PlayerB;456;AK74;150;",   // wrong timestamp format
		"2025.13.40-00.00.00;PlayerA;123;PlayerB;456;AK74;150;",   // impossible date
		";PlayerA;123;PlayerB;456;AK74;150;",                      // no timestamp
		"2025.04.10-00.00.00;;123;PlayerB;456;AK74;150;",          // no victim
		"garbage",
	}
	for _, line := range lines {
		ev, _, err := ParseDeathLogLine(line)
		var malformed *MalformedLineError
		if !errors.As(err, &malformed) {
			t.Errorf("ParseDeathLogLine(%q) err = %v, want *MalformedLineError", line, err)
		}
		if ev != nil {
			t.Errorf("ParseDeathLogLine(%q) = %#v, want nil", line, ev)
		}
	}
}

func TestParseDeathLogLineBadDistance(t *testing.T) {
	ev, ts, err := ParseDeathLogLine("2025.04.10-00.00.00;PlayerA;123;PlayerB;456;AK74;far;")
	var malformed *MalformedLineError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want *MalformedLineError", err)
	}
	if ev != nil || ts.IsZero() {
		t.Errorf("ev = %#v ts = %v", ev, ts)
	}
}

func TestParseDeathLogLineBadDistanceOnSuicide(t *testing.T) {
	for _, line := range []string{
		"2025.04.10-00.05.00;PlayerC;789;PlayerC;789;falling;abc;",
		"2025.04.10-00.05.00;PlayerC;789;PlayerD;111;drowning;-4;",
	} {
		ev, _, err := ParseDeathLogLine(line)
		var malformed *MalformedLineError
		if !errors.As(err, &malformed) {
			t.Errorf("ParseDeathLogLine(%q) err = %v, want *MalformedLineError", line, err)
		}
		if ev != nil {
			t.Errorf("ParseDeathLogLine(%q) = %#v, want nil", line, ev)
		}
	}
}
