package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/xhad/contractiq/internal/models"
)

// Message types sent over /ws.
const (
	MessageAsk    = "ask"
	MessageCancel = "cancel"
	MessageStream = "stream"
	MessageDone   = "done"
	MessageError  = "error"
)

// Message is the outbound frame. Fragments travel in Content; the final
// done frame carries a DoneData.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

type DoneData struct {
	Citations []models.Citation `json:"citations"`
	Fallback  bool              `json:"fallback"`
}

// request is the inbound frame: {"type":"ask","content":"question","data":{...}}.
type request struct {
	Type    string     `json:"type"`
	Content string     `json:"content"`
	Data    askOptions `json:"data"`
}

type askOptions struct {
	DocumentIDs []string `json:"document_ids"`
	K           int      `json:"k"`
}

type wsConn struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Detached from the request so the read loop alone decides when the
	// connection is gone.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := &wsConn{conn: conn, log: s.log.With("remote", r.RemoteAddr)}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket read failed", "error", err)
			}
			cancel()
			return
		}

		switch req.Type {
		case MessageAsk:
			askCtx := c.begin(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.streamAnswer(askCtx, c, req)
			}()
		case MessageCancel:
			c.stop()
		default:
			c.send(Message{Type: MessageError, Content: "unknown message type: " + req.Type})
		}
	}
}

// begin cancels any ask still in flight and returns the context for the
// next one.
func (c *wsConn) begin(parent context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	return ctx
}

func (c *wsConn) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *wsConn) send(msg Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug("websocket write failed", "error", err)
	}
}

func (s *Server) streamAnswer(ctx context.Context, c *wsConn, req request) {
	events, err := s.svc.AskStream(ctx, req.Content, req.Data.DocumentIDs, s.topK(req.Data.K))
	if err != nil {
		c.send(Message{Type: MessageError, Content: err.Error()})
		return
	}
	done := false
	for ev := range events {
		if !ev.Done {
			c.send(Message{Type: MessageStream, Content: ev.Fragment})
			continue
		}
		if ev.Err != nil {
			c.send(Message{Type: MessageError, Content: ev.Err.Error()})
		}
		c.send(Message{Type: MessageDone, Data: DoneData{Citations: ev.Citations, Fallback: ev.Fallback}})
		done = true
	}
	if !done && ctx.Err() != nil {
		c.send(Message{Type: MessageError, Content: "cancelled"})
	}
}
