// Package matrix connects the assistant to a Matrix homeserver. Each room the
// bot is in is one conversation; the room id is the conversation id. The
// transport is also a routing.Sender, so provider and support channels are
// plain Matrix rooms.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tbourn/go-order-bot/internal/sysutil"
)

// Config holds the bot account credentials.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Handler produces the replies for one inbound message.
type Handler interface {
	HandleMessage(ctx context.Context, conversationID, text string) []string
}

// roomAPI is the part of *mautrix.Client the transport uses outside the sync
// loop.
type roomAPI interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Transport runs the sync loop and sends messages.
type Transport struct {
	api     roomAPI
	client  *mautrix.Client
	self    id.UserID
	handler Handler
	log     zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New logs in with an access token. Start must be called to receive messages;
// Send works immediately.
func New(cfg Config, h Handler) (*Transport, error) {
	if strings.TrimSpace(cfg.Homeserver) == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("matrix: homeserver and access token are required")
	}
	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	t := newTransport(cli, id.UserID(cfg.UserID), h)
	t.client = cli
	return t, nil
}

func newTransport(api roomAPI, self id.UserID, h Handler) *Transport {
	return &Transport{
		api:     api,
		self:    self,
		handler: h,
		log:     log.With().Str("component", "matrix").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Send posts text to a room.
func (t *Transport) Send(ctx context.Context, channelID, text string) error {
	if _, err := t.api.SendText(ctx, id.RoomID(channelID), text); err != nil {
		return fmt.Errorf("matrix: send to %s: %w", sysutil.RedactID(channelID), err)
	}
	return nil
}

// Start registers event handlers and syncs in the background until ctx is
// done or Stop is called. Sync errors are retried with exponential backoff.
func (t *Transport) Start(ctx context.Context) error {
	if t.client == nil {
		return errors.New("matrix: transport has no client")
	}
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	// Skip the backlog delivered by the first sync; those messages were
	// either answered before a restart or are too old to act on.
	syncer.OnSync(t.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, t.onMessage)
	syncer.OnEventType(event.StateMember, t.onMember)

	go t.syncLoop(ctx)
	return nil
}

func (t *Transport) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := t.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case <-t.stopCh:
			return
		default:
		}
		t.log.Error().Err(err).Dur("backoff", backoff).Msg("sync stopped; reconnecting")
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// Stop ends the sync loop. It is safe to call more than once.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		if t.client != nil {
			t.client.StopSync()
		}
	})
}

func (t *Transport) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == t.self {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	room := evt.RoomID.String()
	for _, reply := range t.handler.HandleMessage(ctx, room, msg.Body) {
		if err := t.Send(ctx, room, reply); err != nil {
			t.log.Warn().Err(err).Str("room", sysutil.RedactID(room)).Msg("reply not delivered")
			return
		}
	}
}

// onMember accepts invites addressed to the bot.
func (t *Transport) onMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != t.self.String() {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if _, err := t.api.JoinRoomByID(ctx, evt.RoomID); err != nil {
		t.log.Warn().Err(err).Str("room", sysutil.RedactID(evt.RoomID.String())).Msg("join failed")
	}
}
