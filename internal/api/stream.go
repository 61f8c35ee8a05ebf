package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/publish"
	"codeberg.org/mutker/anglepub/internal/sample"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// streamClient pushes samples from one subscription to one websocket peer.
// The peer only ever sees the newest sample it has not yet received.
type streamClient struct {
	conn    *websocket.Conn
	sub     *publish.Subscription
	frameID string
	done    chan struct{}
	log     logger.Logger
}

func (s *Server) stream(c *gin.Context) {
	sub, err := s.broker.Subscribe()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client
		sub.Close()
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &streamClient{
		conn:    conn,
		sub:     sub,
		frameID: s.frameID,
		done:    make(chan struct{}),
		log:     s.log,
	}

	s.log.Info().
		Str("subscriber", sub.ID()).
		Str("client", c.ClientIP()).
		Msg("Websocket subscriber connected")

	go client.writePump()
	go client.readPump()
}

// readPump discards client messages and tracks pongs. It closes done when
// the peer goes away.
func (c *streamClient) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("subscriber", c.sub.ID()).Msg("Websocket read failed")
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sub.Close()
		c.conn.Close()
		c.log.Info().Str("subscriber", c.sub.ID()).Msg("Websocket subscriber disconnected")
	}()

	for {
		select {
		case smp, ok := <-c.sub.C():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Broker closed
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "publisher closed"))
				return
			}

			data, err := sample.Encode(smp, c.frameID)
			if err != nil {
				c.log.Error().Err(err).Msg("Failed to encode sample")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
