package daemon

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// streamEvents relays hub events to the client as server-sent events until
// the client goes away.
func (s *Server) streamEvents(c *gin.Context) {
	if s.hub == nil {
		c.IndentedJSON(http.StatusNotFound, "event streaming is disabled")
		return
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Send headers now so clients see the stream before the first event.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	logrus.WithField("subscribers", s.hub.Subscribers()).Debug("event subscriber connected")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})

	logrus.Debug("event subscriber disconnected")
}
