// Package websocket bridges live job subscriptions onto WebSocket
// connections. Fan-out and buffering live in the progress bus; this
// package only pumps one subscription per connection.
package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/reelforge/api/internal/bus"
	"github.com/reelforge/api/internal/model"
)

const pingInterval = 30 * time.Second

// Hub attaches WebSocket connections to the progress bus
type Hub struct {
	bus *bus.Bus
}

func NewHub(b *bus.Bus) *Hub {
	return &Hub{bus: b}
}

// HandleConnection serves one job's event stream over a WebSocket
// connection. The subscriber gets the current snapshot first, then live
// events until the job finishes or the client disconnects. When the bus
// drops the subscription (slow consumer, finished job) the connection is
// closed and the client is expected to poll or resubscribe.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	sub := h.bus.Subscribe(jobID)
	defer sub.Close()

	log.Printf("[WS] Client attached to job %s", jobID)
	defer log.Printf("[WS] Client detached from job %s", jobID)

	pong := make(chan struct{}, 1)

	// Writer goroutine: events, pong replies and keep-alive pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					log.Printf("[WS] Failed to marshal event: %v", err)
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-pong:
				data, _ := json.Marshal(model.WSControlMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: only ping control frames are expected from clients.
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Connection error on job %s: %v", jobID, err)
			}
			break
		}

		var msg model.WSControlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			select {
			case pong <- struct{}{}:
			default:
			}
		}
	}

	// Unblock the writer before waiting for it.
	sub.Close()
	<-done
}
