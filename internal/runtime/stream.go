package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/scribelabs/scribe-core/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream upgrades the request to a websocket and forwards the
// meeting's segment and status events from the bus until the meeting
// reaches a terminal state or the client disconnects.
func (r *Runtime) handleStream(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if _, err := r.registry.LiveSnapshot(id); err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	messages := make(chan []byte, 64)
	done := make(chan struct{})
	var closeOnce sync.Once

	forward := func(msg *nats.Msg) {
		select {
		case messages <- msg.Data:
		default:
			// Slow consumer; the live endpoint remains available for catch-up.
		}
	}

	segSub, err := r.busClient.Subscribe(protocol.SegmentSubject(id), forward)
	if err != nil {
		r.logger.Warn("segment subscription failed", slog.String("error", err.Error()))
		return
	}
	defer segSub.Unsubscribe()

	statusSub, err := r.busClient.Subscribe(protocol.StatusSubject(id), func(msg *nats.Msg) {
		forward(msg)
		var evt protocol.StatusEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		if evt.Status == "finalized" || evt.Status == "aborted" {
			closeOnce.Do(func() { close(done) })
		}
	})
	if err != nil {
		r.logger.Warn("status subscription failed", slog.String("error", err.Error()))
		return
	}
	defer statusSub.Unsubscribe()

	// Detect client disconnects; inbound frames are otherwise ignored.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-messages:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			// Drain anything already queued before closing.
			for {
				select {
				case data := <-messages:
					conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "meeting ended"))
					return
				}
			}
		case <-clientGone:
			return
		case <-req.Context().Done():
			return
		}
	}
}
