package server

import (
	"log/slog"

	"golang.org/x/net/websocket"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/util"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
)

// wsCommand is an inbound frame on the status socket.
type wsCommand struct {
	Action  string `json:"action"`
	PhotoID string `json:"photoId"`
}

// handlePhotoStatusWS streams status updates to a WebSocket client.
// Every connection starts on the broadcast topic; subscribe and
// unsubscribe frames naming a photo ID adjust per-photo topics on top
// of that. Outbound frames are the notify.StatusUpdate JSON shape.
func (s *Server) handlePhotoStatusWS(conn *websocket.Conn) {
	defer conn.Close()

	sub := s.hub.Subscribe(notify.TopicAll)
	defer s.hub.Unsubscribe(sub)

	logger := util.LoggerFromContext(conn.Request().Context())
	remote := conn.Request().RemoteAddr
	logger.Info("websocket client connected", "remote", remote)
	defer logger.Info("websocket client disconnected", "remote", remote)

	done := make(chan struct{})
	defer close(done)

	commands := make(chan wsCommand)
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			var cmd wsCommand
			if err := websocket.JSON.Receive(conn, &cmd); err != nil {
				return
			}
			select {
			case commands <- cmd:
			case <-done:
				return
			}
		}
	}()

	// Single writer: updates and control frames are serialized here so
	// websocket.JSON.Send is never called concurrently.
	for {
		select {
		case <-readClosed:
			return
		case cmd := <-commands:
			s.applyWSCommand(sub, cmd, logger)
		case update := <-sub.C():
			if err := websocket.JSON.Send(conn, update); err != nil {
				return
			}
		}
	}
}

func (s *Server) applyWSCommand(sub *notify.Subscriber, cmd wsCommand, logger *slog.Logger) {
	if cmd.PhotoID == "" {
		return
	}
	topic := notify.TopicPhoto(cmd.PhotoID)
	switch cmd.Action {
	case "subscribe":
		s.hub.Add(sub, topic)
	case "unsubscribe":
		s.hub.Remove(sub, topic)
	default:
		logger.Warn("unknown websocket action", "action", cmd.Action)
	}
}
