// Package dispatch turns classified events into notifications, player stat
// mutations and event records.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

// DefaultKillReward is the currency granted per scored kill
const DefaultKillReward = 10

// Batching thresholds for join/leave announcements within one tick
const (
	maxIndividualPresence = 3
	maxListedNames        = 10
)

// Notifier delivers a formed notification to a chat bridge or live feed
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// StatSink applies player counter mutations. ScoreKill must apply all of
// its counters or none of them.
type StatSink interface {
	ScoreKill(ctx context.Context, killer, victim domain.PlayerRef, reward int64) error
	IncrementDeaths(ctx context.Context, player domain.PlayerRef) error
}

// Recorder stores dispatched events for the operator API
type Recorder interface {
	RecordEvent(ctx context.Context, rec domain.EventRecord) error
}

// Dispatcher maps events to their side effects. It is safe for concurrent
// use; per-tick state lives in Batch.
type Dispatcher struct {
	notifier   Notifier
	stats      StatSink
	recorder   Recorder
	killReward int64
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithKillReward sets the currency granted per scored kill
func WithKillReward(amount int64) Option {
	return func(d *Dispatcher) { d.killReward = amount }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithClock overrides the time source used for events without a timestamp
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. recorder may be nil.
func New(notifier Notifier, stats StatSink, recorder Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:   notifier,
		stats:      stats,
		recorder:   recorder,
		killReward: DefaultKillReward,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Batch collects the events of one server for one sweep tick
type Batch struct {
	d      *Dispatcher
	server *domain.Server
	joins  presenceSet
	leaves presenceSet
}

// Begin opens a batch for server. Call Flush when the tick is done.
func (d *Dispatcher) Begin(server *domain.Server) *Batch {
	return &Batch{d: d, server: server}
}

// Dispatch applies the side effects of one event. Only stat mutation
// failures are returned; the caller must not commit past the failing line.
func (b *Batch) Dispatch(ctx context.Context, env domain.Envelope) error {
	d := b.d
	if env.Timestamp.IsZero() {
		env.Timestamp = d.now().UTC()
	}

	announced := false
	switch ev := env.Event.(type) {
	case domain.PlayerKill:
		if b.scoresKills(env.Source) {
			if err := d.scoreKill(ctx, ev); err != nil {
				return err
			}
		}
		announced = d.announce(ctx, b.server, b.server.KillfeedChannel, env, killNotification(ev))

	case domain.PlayerDeath:
		if !ev.IsSuicide && b.scoresKills(env.Source) {
			victim := domain.PlayerRef{ID: ev.PlayerID, Name: ev.Player}
			if err := d.stats.IncrementDeaths(ctx, victim); err != nil {
				return fmt.Errorf("counting death of %s: %w", ev.Player, err)
			}
		}
		announced = d.announce(ctx, b.server, b.server.KillfeedChannel, env, deathNotification(ev))

	case domain.AirdropStatus:
		if announcedAirdropStatuses[ev.Status] {
			announced = d.announce(ctx, b.server, b.server.LogChannel, env, airdropNotification(ev))
		}

	case domain.MissionStatus:
		if announcedMissionStatuses[ev.Status] {
			announced = d.announce(ctx, b.server, b.server.LogChannel, env, missionNotification(ev))
		}

	case domain.HeliCrash:
		announced = d.announce(ctx, b.server, b.server.LogChannel, env, heliCrashNotification(ev))

	case domain.TraderSpawn:
		announced = d.announce(ctx, b.server, b.server.LogChannel, env, traderNotification(ev))

	case domain.VehicleEvent:
		announced = d.announce(ctx, b.server, b.server.LogChannel, env, vehicleNotification(ev))

	case domain.PlayerJoin:
		// recorded on Flush, once delivery is known
		b.joins.add(ev.Name, env)
		return nil

	case domain.PlayerLeave:
		b.leaves.add(ev.Name, env)
		return nil

	case domain.MissionRespawn, domain.GameplayEvent:
		// recorded only

	default:
		return fmt.Errorf("unknown event type %T", env.Event)
	}

	d.record(ctx, env, announced)
	return nil
}

// Flush emits the join and leave announcements collected during the tick
// and records their events with the delivery outcome
func (b *Batch) Flush(ctx context.Context) {
	b.flushPresence(ctx, &b.joins, true)
	b.flushPresence(ctx, &b.leaves, false)
	b.joins = presenceSet{}
	b.leaves = presenceSet{}
}

func (b *Batch) flushPresence(ctx context.Context, p *presenceSet, joined bool) {
	d := b.d
	notifications := presenceNotifications(p, joined)
	delivered := make(map[string]bool, len(p.names))
	for i, n := range notifications {
		ok := d.send(ctx, b.server, b.server.LogChannel, n)
		if len(notifications) == len(p.names) {
			delivered[p.names[i]] = ok
			continue
		}
		// one summary covers every name
		for _, name := range p.names {
			delivered[name] = ok
		}
	}
	for _, pe := range p.pending {
		d.record(ctx, pe.env, delivered[pe.name])
	}
}

// scoresKills reports whether kill and death events from source mutate
// counters. The death log is authoritative when the server has one, so
// server log kills are only scored for servers without it.
func (b *Batch) scoresKills(source domain.SourceType) bool {
	return source == domain.SourceDeathLog || !b.server.HasDeathLog()
}

func (d *Dispatcher) scoreKill(ctx context.Context, ev domain.PlayerKill) error {
	killer := domain.PlayerRef{ID: ev.KillerID, Name: ev.Killer}
	victim := domain.PlayerRef{ID: ev.VictimID, Name: ev.Victim}
	if err := d.stats.ScoreKill(ctx, killer, victim, d.killReward); err != nil {
		return fmt.Errorf("scoring kill of %s by %s: %w", ev.Victim, ev.Killer, err)
	}
	return nil
}

// announce fills in routing fields and sends n, reporting whether it was delivered
func (d *Dispatcher) announce(ctx context.Context, server *domain.Server, channel string, env domain.Envelope, n domain.Notification) bool {
	n.Timestamp = env.Timestamp
	return d.send(ctx, server, channel, n)
}

func (d *Dispatcher) send(ctx context.Context, server *domain.Server, channel string, n domain.Notification) bool {
	if channel == "" {
		d.logger.Debug("no channel configured, notification suppressed", "server", server.Name, "title", n.Title)
		return false
	}
	n.ServerID = server.ID
	n.Channel = channel
	if n.Timestamp.IsZero() {
		n.Timestamp = d.now().UTC()
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("notification dropped", "server", server.Name, "channel", channel, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) record(ctx context.Context, env domain.Envelope, announced bool) {
	if d.recorder == nil {
		return
	}
	rec := domain.EventRecord{
		ServerID:   env.ServerID,
		Source:     string(env.Source),
		Kind:       env.Event.Kind(),
		Summary:    env.Event.Summary(),
		Announced:  announced,
		OccurredAt: env.Timestamp,
	}
	if err := d.recorder.RecordEvent(ctx, rec); err != nil {
		d.logger.Warn("failed to record event", "server_id", env.ServerID, "kind", rec.Kind, "error", err)
	}
}

// presenceSet holds distinct player names in arrival order and every
// envelope awaiting its event record
type presenceSet struct {
	names   []string
	seen    map[string]struct{}
	last    time.Time
	pending []pendingPresence
}

type pendingPresence struct {
	name string
	env  domain.Envelope
}

func (p *presenceSet) add(name string, env domain.Envelope) {
	if p.seen == nil {
		p.seen = make(map[string]struct{})
	}
	p.pending = append(p.pending, pendingPresence{name: name, env: env})
	if env.Timestamp.After(p.last) {
		p.last = env.Timestamp
	}
	if _, ok := p.seen[name]; ok {
		return
	}
	p.seen[name] = struct{}{}
	p.names = append(p.names, name)
}
