package api

import (
	"time"

	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	eventBuffer  = 16
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// event is one websocket message. The first message of a stream is a
// snapshot; every later one follows a lifecycle transition.
type event struct {
	Type       string                `json:"type"`
	Transition *lifecycle.Transition `json:"transition,omitempty"`
	Session    sessionView           `json:"session"`
}

// handleEvents streams the session's lifecycle over a websocket until the
// client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied.
		s.log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithField("session_id", ctrl.ID())
	transitions := make(chan lifecycle.Transition, eventBuffer)
	unsubscribe := ctrl.Subscribe(func(t lifecycle.Transition) {
		select {
		case transitions <- t:
		default:
			log.WithField("to_state", string(t.To)).Warn("Dropping lifecycle event for slow subscriber")
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeEvent(conn, event{Type: "snapshot", Session: s.view(ctrl)}); err != nil {
		return
	}
	log.Debug("Event stream opened")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("Event stream closed by client")
			return
		case t := <-transitions:
			if err := s.writeEvent(conn, event{Type: "transition", Transition: &t, Session: s.view(ctrl)}); err != nil {
				log.WithError(err).Debug("Event stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(ev); err != nil {
		s.log.WithFields(logrus.Fields{"type": ev.Type}).WithError(err).Debug("Failed to write event")
		return err
	}
	return nil
}
