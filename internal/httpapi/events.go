package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/go-micros/micros/micros"
)

const (
	clientBufferSize = 64
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// ClientIDHeader carries the id assigned to an event stream in the upgrade response.
const ClientIDHeader = "X-Client-Id"

// EventMessage is the JSON document sent on /events for each state change.
type EventMessage struct {
	Function string    `json:"function"`
	Number   byte      `json:"number"`
	Value    byte      `json:"value"`
	State    string    `json:"state"`
	At       time.Time `json:"at"`
}

func newEventMessage(c micros.StateChange) EventMessage {
	return EventMessage{
		Function: c.Address.Function.String(),
		Number:   c.Address.Number,
		Value:    c.State,
		State:    micros.Reading{Value: c.State, Known: true}.String(),
		At:       c.At,
	}
}

type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan EventMessage
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// broadcast runs on the driver's notifier goroutine and never blocks on a client.
func (s *Server) broadcast(change micros.StateChange) {
	msg := newEventMessage(change)

	s.clients.Range(func(id string, c *wsClient) bool {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn("event client too slow, state change dropped", "client", id)
		}
		return true
	})
}

func (s *Server) events(c *gin.Context) {
	id := uuid.NewString()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, http.Header{ClientIDHeader: {id}})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   id,
		conn: conn,
		send: make(chan EventMessage, clientBufferSize),
		done: make(chan struct{}),
	}
	s.clients.Store(id, client)
	s.logger.Info("event client connected", "client", id, "remote", c.Request.RemoteAddr)

	go s.readPump(client)
	s.writePump(client)

	s.clients.Delete(id)
	_ = conn.Close()
	s.logger.Info("event client disconnected", "client", id)
}

// readPump discards client messages and detects the peer going away.
func (s *Server) readPump(c *wsClient) {
	defer c.close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("event write failed", "client", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
