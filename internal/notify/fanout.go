package notify

import (
	"context"
	"errors"

	"github.com/ernie/killfeed/internal/dispatch"
	"github.com/ernie/killfeed/internal/domain"
)

// Fanout delivers each notification to every sink
type Fanout []dispatch.Notifier

// Notify sends n to all sinks and joins their errors
func (f Fanout) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification. Used when no sink is configured.
type Discard struct{}

// Notify implements dispatch.Notifier
func (Discard) Notify(context.Context, domain.Notification) error { return nil }
