package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clintjedwards/gofer-sub002/internal/models"
)

// handleEvents streams the durable event log as JSON text frames, one per
// models.Event (already wire-shaped by Event.MarshalJSON into the
// `{id, kind: {tag: payload}, emitted}` frame). history=true replays stored
// events before switching to live delivery; reverse=true replays that
// history newest-first. Combining history=false with reverse=true has no
// history to reverse, so it is rejected with close code Unsupported.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, s.authn, "", "event", "read"); !ok {
		return
	}

	history := r.URL.Query().Get("history") == "true"
	reverse := r.URL.Query().Get("reverse") == "true"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !history && reverse {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "reverse requires history"),
			time.Now().Add(time.Second))
		return
	}

	ctx := r.Context()

	if history {
		listener, err := s.app.Bus.SubscribeHistorical(ctx, "")
		if err != nil {
			return
		}
		var events []*models.Event
		for {
			e, ok := listener.Next(ctx)
			if !ok {
				break
			}
			events = append(events, e)
		}
		if reverse {
			for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
				events[i], events[j] = events[j], events[i]
			}
		}
		for _, e := range events {
			if err := writeEventFrame(conn, e); err != nil {
				return
			}
		}
	}

	live := s.app.Bus.SubscribeLive()
	defer live.Close()
	for {
		e, ok := live.Next(ctx)
		if !ok {
			return
		}
		if err := writeEventFrame(conn, e); err != nil {
			return
		}
	}
}

func writeEventFrame(conn *websocket.Conn, e *models.Event) error {
	b, err := e.MarshalJSON()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
