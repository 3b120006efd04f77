package ipc

import (
	log "log/slog"

	"chatrelay/internal/events"
	"chatrelay/internal/gate"
)

// NewHandler applies control commands to the gate. ready reports messenger
// readiness; pub may be nil.
func NewHandler(g *gate.Gate, ready func() bool, pub events.Publisher) Handler {
	if pub == nil {
		pub = events.Discard
	}

	return func(msg ControlMessage) Reply {
		switch msg.Cmd {
		case CmdStatus, CmdPaused:
		case CmdEnable, CmdDisable:
			on := msg.Cmd == CmdEnable
			g.SetEnabled(on)
			log.Info("Bot toggled via ipc", "enabled", on)
			kind := events.Disabled
			if on {
				kind = events.Enabled
			}
			pub.Publish(events.Event{Kind: kind, Detail: "ipc"})
		case CmdPause, CmdResume:
			if msg.ChatID == "" {
				return Reply{Error: "chatId is required"}
			}
			if msg.Cmd == CmdPause {
				g.Pause(msg.ChatID)
				pub.Publish(events.Event{Kind: events.Paused, ChatID: msg.ChatID, Detail: "ipc"})
			} else {
				g.Resume(msg.ChatID)
				pub.Publish(events.Event{Kind: events.Resumed, ChatID: msg.ChatID, Detail: "ipc"})
			}
			log.Info("Chat toggled via ipc", "cmd", msg.Cmd, "chat", msg.ChatID)
		default:
			return Reply{Error: "unknown command: " + msg.Cmd}
		}

		r := Reply{OK: true, Enabled: g.Enabled(), Paused: g.Paused()}
		if ready != nil {
			r.Connected = ready()
		}
		return r
	}
}
