package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"credpool-go/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

// handleEventsWS streams pool events (imports, exhaustions, reactivations,
// sweep completions) to the connected observer.
func (s *Server) handleEventsWS(c *gin.Context) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, r.Host)
	}}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan events.Event, wsSendBuffer)

	unsubscribe := make([]func(), 0, 2)
	for _, topic := range []string{events.TopicCredentialChanged, events.TopicSweepCompleted} {
		unsub := s.hub.Subscribe(topic, func(_ context.Context, ev events.Event) {
			select {
			case send <- ev:
			default: // slow consumer, drop
			}
		})
		unsubscribe = append(unsubscribe, unsub)
	}
	defer func() {
		for _, unsub := range unsubscribe {
			unsub()
		}
	}()

	// Reader goroutine detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
