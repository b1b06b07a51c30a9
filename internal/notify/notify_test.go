package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/killfeed/internal/dispatch"
	"github.com/ernie/killfeed/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbeddedServer("127.0.0.1", -1, quietLogger())
	if err != nil {
		t.Fatalf("StartEmbeddedServer: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSPublisherNotify(t *testing.T) {
	srv := startTestServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()
	inbox, err := sub.SubscribeSync("killfeed.kills")
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	pub, err := NewNATSPublisher(srv.ClientURL(), "killfeed", quietLogger())
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	defer pub.Close()

	want := domain.Notification{
		ServerID:    "srv-1",
		Channel:     "kills",
		Title:       "Kill",
		Description: "**B** killed **A**",
		Color:       domain.ColorRed,
		Fields:      []domain.Field{{Name: "Weapon", Value: "AK74", Inline: true}},
		Timestamp:   time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
	}
	if err := pub.Notify(context.Background(), want); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	msg, err := inbox.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var got domain.Notification
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	if got.Title != want.Title || got.Channel != "kills" || len(got.Fields) != 1 || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("received %+v", got)
	}
}

func TestNATSPublisherUnresolvedChannel(t *testing.T) {
	srv := startTestServer(t)
	pub, err := NewNATSPublisher(srv.ClientURL(), "killfeed", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	for _, channel := range []string{"", "two words", "wild*", "a..b", ".lead", "tail.", ">"} {
		err := pub.Notify(context.Background(), domain.Notification{Channel: channel})
		if !errors.Is(err, ErrUnresolvedChannel) {
			t.Errorf("channel %q: err = %v, want ErrUnresolvedChannel", channel, err)
		}
	}

	subject, err := pub.Subject("guild.123456")
	if err != nil || subject != "killfeed.guild.123456" {
		t.Errorf("Subject = %q, %v", subject, err)
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, domain.Notification) error {
	s.calls++
	return s.err
}

func TestFanout(t *testing.T) {
	failing := &stubNotifier{err: errors.New("boom")}
	ok := &stubNotifier{}
	f := Fanout{failing, ok}

	err := f.Notify(context.Background(), domain.Notification{Channel: "x"})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Errorf("calls = %d, %d; a failing sink must not stop the others", failing.calls, ok.calls)
	}

	var _ dispatch.Notifier = Fanout{}
	var _ dispatch.Notifier = Discard{}
	var _ dispatch.Notifier = (*NATSPublisher)(nil)
}
