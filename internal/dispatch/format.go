package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ernie/killfeed/internal/domain"
)

// Statuses worth announcing; the rest are recorded only
var (
	announcedAirdropStatuses = map[string]bool{"Waiting": true, "Dropped": true, "Active": true}
	announcedMissionStatuses = map[string]bool{"READY": true, "ACTIVE": true}
)

func killNotification(ev domain.PlayerKill) domain.Notification {
	return domain.Notification{
		Title:       "Kill",
		Description: fmt.Sprintf("**%s** killed **%s**", ev.Killer, ev.Victim),
		Color:       domain.ColorRed,
		Fields: []domain.Field{
			{Name: "Weapon", Value: ev.Weapon, Inline: true},
			{Name: "Distance", Value: strconv.Itoa(ev.DistanceMeters) + "m", Inline: true},
		},
	}
}

func deathNotification(ev domain.PlayerDeath) domain.Notification {
	if ev.IsSuicide {
		return domain.Notification{
			Title:       "Suicide",
			Description: fmt.Sprintf("**%s** died (%s)", ev.Player, ev.Cause),
			Color:       domain.ColorOrange,
		}
	}
	return domain.Notification{
		Title:       "Death",
		Description: fmt.Sprintf("**%s** died from %s", ev.Player, ev.Cause),
		Color:       domain.ColorOrange,
	}
}

func airdropNotification(ev domain.AirdropStatus) domain.Notification {
	var desc string
	switch ev.Status {
	case "Waiting":
		desc = "An airdrop is on its way"
	case "Dropped":
		desc = "An airdrop has been dropped"
	default:
		desc = "An airdrop is active"
	}
	return domain.Notification{
		Title:       "Airdrop",
		Description: desc,
		Color:       domain.ColorBlue,
		Fields:      []domain.Field{{Name: "Status", Value: ev.Status, Inline: true}},
	}
}

func missionNotification(ev domain.MissionStatus) domain.Notification {
	return domain.Notification{
		Title:       "Mission",
		Description: fmt.Sprintf("Mission **%s** is now %s", ev.Name, ev.Status),
		Color:       domain.ColorPurple,
	}
}

func heliCrashNotification(ev domain.HeliCrash) domain.Notification {
	return domain.Notification{
		Title:       "Helicopter crash",
		Description: "A helicopter went down",
		Color:       domain.ColorYellow,
		Fields:      []domain.Field{{Name: "Location", Value: ev.Position}},
	}
}

func traderNotification(ev domain.TraderSpawn) domain.Notification {
	return domain.Notification{
		Title:       "Roaming trader",
		Description: "A roaming trader has arrived",
		Color:       domain.ColorYellow,
		Fields:      []domain.Field{{Name: "Location", Value: ev.Position}},
	}
}

var vehicleVerbs = map[domain.VehicleKind]string{
	domain.VehicleSpawn:  "spawned",
	domain.VehicleAdd:    "added",
	domain.VehicleRemove: "removed",
}

func vehicleNotification(ev domain.VehicleEvent) domain.Notification {
	return domain.Notification{
		Title:       "Vehicle " + vehicleVerbs[ev.Action],
		Description: fmt.Sprintf("Vehicle %s %s", ev.ID, vehicleVerbs[ev.Action]),
		Color:       domain.ColorTeal,
		Fields:      []domain.Field{{Name: "Total vehicles", Value: strconv.Itoa(ev.TotalAfter), Inline: true}},
	}
}

// presenceNotifications renders the joins or leaves of one tick: one message
// per player up to maxIndividualPresence, a single summary above that
func presenceNotifications(p *presenceSet, joined bool) []domain.Notification {
	if len(p.names) == 0 {
		return nil
	}
	title, verb, color := "Player joined", "connected", domain.ColorGreen
	if !joined {
		title, verb, color = "Player left", "disconnected", domain.ColorGrey
	}

	if len(p.names) <= maxIndividualPresence {
		out := make([]domain.Notification, 0, len(p.names))
		for _, name := range p.names {
			out = append(out, domain.Notification{
				Title:       title,
				Description: fmt.Sprintf("**%s** %s", name, verb),
				Color:       color,
				Timestamp:   p.last,
			})
		}
		return out
	}

	listed := p.names
	if len(listed) > maxListedNames {
		listed = listed[:maxListedNames]
	}
	desc := strings.Join(listed, ", ")
	if extra := len(p.names) - len(listed); extra > 0 {
		desc += fmt.Sprintf(" and %d more", extra)
	}
	return []domain.Notification{{
		Title:       fmt.Sprintf("%d players %s", len(p.names), verb),
		Description: desc,
		Color:       color,
		Timestamp:   p.last,
	}}
}
