// Package ipc is the local control channel: one JSON request and one JSON
// reply per unix-socket connection.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/chatrelay.sock"

const (
	CmdStatus  = "status"
	CmdEnable  = "enable"
	CmdDisable = "disable"
	CmdPause   = "pause"
	CmdResume  = "resume"
	CmdPaused  = "paused"
)

type ControlMessage struct {
	Cmd    string `json:"cmd"`
	ChatID string `json:"chatId,omitempty"`
}

type Reply struct {
	OK        bool     `json:"ok"`
	Error     string   `json:"error,omitempty"`
	Enabled   bool     `json:"enabled"`
	Connected bool     `json:"connected"`
	Paused    []string `json:"paused,omitempty"`
}

type Handler func(ControlMessage) Reply

type Server struct {
	ln   net.Listener
	path string
}

// Listen replaces any stale socket at path and serves h on it.
func Listen(path string, h Handler) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}
	go s.accept(h)
	return s, nil
}

func (s *Server) accept(h Handler) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug("ipc accept failed", "err", err)
			continue
		}
		go handleConn(conn, h)
	}
}

func handleConn(conn net.Conn, h Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		_ = json.NewEncoder(conn).Encode(Reply{Error: "bad request: " + err.Error()})
		return
	}
	_ = json.NewEncoder(conn).Encode(h(msg))
}

func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func Send(path string, msg ControlMessage) (Reply, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	if r.Error != "" {
		return r, errors.New(r.Error)
	}
	return r, nil
}
