package daemon

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// keepAliveInterval keeps idle event streams from being closed by proxies.
const keepAliveInterval = 30 * time.Second

// streamEvents serves the event hub as server-sent events until the client
// goes away.
func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.events.Subscribe()
	defer d.events.Unsubscribe(ch)

	logrus.WithField("subscribers", d.events.Subscribers()).Debug("event subscriber connected")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(200)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

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
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})

	logrus.Debug("event subscriber disconnected")
}
