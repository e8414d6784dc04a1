package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/logger"
)

// handleStream pushes generated signals to the client as server-sent events.
// Frames: one "connected" frame, then "signal" frames as they are published,
// with "heartbeat" keepalives in between. The subscription is released on
// every exit path, including a hub-side drop of a slow client.
func (s *Server) handleStream(c *gin.Context) {
	id, ch := s.cfg.Hub.Subscribe()
	defer s.cfg.Hub.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Render(http.StatusOK, sseEvent{event: "connected", data: gin.H{
		"subscriber_id": id,
		"time":          time.Now().UTC().Format(time.RFC3339),
	}})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			logger.Debugf("SSE subscriber %s disconnected", id)
			return
		case sig, ok := <-ch:
			if !ok {
				// Dropped by the hub; the client reconnects and catches up
				// from the store.
				logger.Warnf("SSE subscriber %s dropped by hub", id)
				return
			}
			if !writeEvent(c, "signal", sig) {
				return
			}
		case t := <-heartbeat.C:
			if !writeEvent(c, "heartbeat", gin.H{"time": t.UTC().Format(time.RFC3339)}) {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, event string, data any) bool {
	if err := (sseEvent{event: event, data: data}).Render(c.Writer); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// sseEvent renders one text/event-stream frame with a JSON payload.
type sseEvent struct {
	event string
	data  any
}

func (e sseEvent) Render(w http.ResponseWriter) error {
	if _, err := io.WriteString(w, "event: "+e.event+"\ndata: "); err != nil {
		return err
	}
	enc, err := json.Marshal(e.data)
	if err != nil {
		return err
	}
	if _, err := w.Write(enc); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n\n")
	return err
}

func (e sseEvent) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
}
