package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ginLogger logs every request through logger. Failed requests are logged
// with the errors attached by the handler.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handlers may rewrite the path.
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		code := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"statusCode": code,
			"latency":    latency.Milliseconds(),
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": size,
		})

		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, code, latency.Milliseconds())
		switch {
		case code >= http.StatusInternalServerError:
			entry.Error(msg)
		case code >= http.StatusBadRequest:
			entry.Warn(msg)
		case c.Request.Method == http.MethodGet:
			// Clients poll the read endpoints.
			entry.Trace(msg)
		default:
			entry.Debug(msg)
		}
	}
}
