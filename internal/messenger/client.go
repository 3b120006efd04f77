// Package messenger connects the relay to a WhatsApp account.
package messenger

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"sort"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"chatrelay/internal/control"
	"chatrelay/internal/events"
	"chatrelay/internal/pipeline"
)

const DefaultSessionDB = "session.db"

type Options struct {
	// SessionDB is the SQLite file holding the paired device.
	SessionDB string
	// QR receives pairing codes on first run.
	QR io.Writer
	// Events is told about connection changes.
	Events events.Publisher
}

type Client struct {
	wa     *whatsmeow.Client
	db     *sqlstore.Container
	opt    Options
	ready  atomic.Bool
	mu     sync.RWMutex
	handle func(pipeline.Message)
}

var (
	_ control.Messenger = (*Client)(nil)
	_ pipeline.Sender   = (*Client)(nil)
)

func Open(ctx context.Context, opt Options) (*Client, error) {
	if opt.SessionDB == "" {
		opt.SessionDB = DefaultSessionDB
	}
	if opt.Events == nil {
		opt.Events = events.Discard
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", opt.SessionDB)
	db, err := sqlstore.New(ctx, "sqlite3", dsn, newLogger("whatsapp-db"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	device, err := db.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	c := &Client{
		wa:  whatsmeow.NewClient(device, newLogger("whatsapp")),
		db:  db,
		opt: opt,
	}
	c.wa.AddEventHandler(c.onEvent)
	return c, nil
}

// OnMessage sets the callback for inbound messages. It must not block.
func (c *Client) OnMessage(fn func(pipeline.Message)) {
	c.mu.Lock()
	c.handle = fn
	c.mu.Unlock()
}

// Connect starts the session. Without a stored device it prints pairing
// QR codes until the phone scans one.
func (c *Client) Connect(ctx context.Context) error {
	if c.wa.Store.ID != nil {
		return c.wa.Connect()
	}

	qr, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return err
	}

	go func() {
		for evt := range qr {
			switch evt.Event {
			case "code":
				log.Info("Scan the QR code with WhatsApp to pair")
				if c.opt.QR != nil {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, c.opt.QR)
				}
			case "success":
				log.Info("Device paired")
			default:
				log.Warn("Pairing ended", "event", evt.Event)
			}
		}
	}()
	return nil
}

// Ready reports whether the session is connected and logged in.
func (c *Client) Ready() bool { return c.ready.Load() }

func (c *Client) onEvent(evt interface{}) {
	switch v := evt.(type) {
	case *waEvents.Connected:
		c.ready.Store(true)
		log.Info("WhatsApp client ready")
		c.opt.Events.Publish(events.Event{Kind: events.Connected})
	case *waEvents.Disconnected:
		c.setDown("disconnected")
	case *waEvents.LoggedOut:
		c.setDown("logged out")
	case *waEvents.StreamReplaced:
		c.setDown("stream replaced")
	case *waEvents.Message:
		m, ok := convert(v, c.wa)
		if !ok {
			return
		}
		c.mu.RLock()
		fn := c.handle
		c.mu.RUnlock()
		if fn != nil {
			fn(m)
		}
	}
}

func (c *Client) setDown(reason string) {
	if c.ready.Swap(false) {
		log.Warn("WhatsApp client down", "reason", reason)
		c.opt.Events.Publish(events.Event{Kind: events.Disconnected, Detail: reason})
	}
}

func (c *Client) Send(ctx context.Context, chatID, text string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("chat id %q: %w", chatID, err)
	}
	_, err = c.wa.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	return err
}

func (c *Client) SetComposing(ctx context.Context, chatID string, composing bool) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("chat id %q: %w", chatID, err)
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return c.wa.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// ListChats returns known contacts and joined groups, sorted by id.
func (c *Client) ListChats(ctx context.Context) ([]control.Chat, error) {
	contacts, err := c.wa.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("contacts: %w", err)
	}
	groups, err := c.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}

	out := make([]control.Chat, 0, len(contacts)+len(groups))
	for jid, info := range contacts {
		out = append(out, control.Chat{ID: jid.String(), Name: contactName(jid, info)})
	}
	for _, g := range groups {
		out = append(out, control.Chat{ID: g.JID.String(), Name: g.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func contactName(jid types.JID, info types.ContactInfo) string {
	for _, name := range []string{info.FullName, info.FirstName, info.PushName, info.BusinessName} {
		if name != "" {
			return name
		}
	}
	return jid.User
}

func (c *Client) Close() error {
	c.wa.Disconnect()
	c.setDown("closed")
	return c.db.Close()
}
