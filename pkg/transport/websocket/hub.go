// Package websocket carries the scale channels over websocket connections.
//
// Every message is binary: byte 0 is the channel id, the rest is the channel
// payload. The server sends weight reports, battery levels and status
// strings; clients write tare, calibrate and settings commands.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/transport"
)

const (
	DefaultListen = ":8765"
	DefaultPath   = "/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  256,
	WriteBufferSize: 256,
	// The scale has no notion of origins, any page on the network may read it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks connected clients. It implements transport.Sink; commands
// received from clients are run on the Commander given to NewHub.
type Hub struct {
	cmd transport.Commander

	mu      sync.RWMutex
	clients map[*client]bool
	// last frame per channel, replayed to new clients
	last map[packet.Channel][]byte

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

var (
	_ transport.Sink            = (*Hub)(nil)
	_ transport.CalibrationSink = (*Hub)(nil)
)

func NewHub(cmd transport.Commander) *Hub {
	return &Hub{
		cmd:        cmd,
		clients:    make(map[*client]bool),
		last:       make(map[packet.Channel][]byte),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes all
// clients.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			for _, ch := range packet.Channels() {
				if frame, ok := h.last[ch]; ok {
					c.send <- frame
				}
			}
			h.mu.Unlock()
			c.logger().WithField("clients", n).Info("websocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				c.logger().WithFields(logrus.Fields{
					"clients":   len(h.clients),
					"connected": time.Since(c.connectedAt).Round(time.Second).String(),
				}).Info("websocket client disconnected")
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			var dead []*client
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					dead = append(dead, c)
				}
			}
			for _, c := range dead {
				delete(h.clients, c)
				close(c.send)
				c.logger().Warn("websocket client too slow, dropped")
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SendWeight(report [packet.Size]byte) error {
	return h.publish(packet.ChannelWeight, report[:])
}

func (h *Hub) SendBattery(percent uint8) error {
	return h.publish(packet.ChannelBattery, []byte{percent})
}

func (h *Hub) SendStatus(status string) error {
	return h.publish(packet.ChannelStatus, []byte(status))
}

func (h *Hub) SendCalibration(factor float32) error {
	return h.publish(packet.ChannelCalibrate, packet.EncodeFactor(factor))
}

// publish never blocks the caller. When the hub is backed up the frame is
// dropped; the next tick sends a fresh one.
func (h *Hub) publish(ch packet.Channel, payload []byte) error {
	frame := transport.Frame(ch, payload)

	h.mu.Lock()
	h.last[ch] = frame
	h.mu.Unlock()

	select {
	case h.broadcast <- frame:
	default:
		logrus.WithField("channel", ch.String()).Debug("websocket broadcast queue full, frame dropped")
	}
	return nil
}

// Serve runs the hub and an HTTP server for it on addr until ctx is done.
func Serve(ctx context.Context, h *Hub, addr, path string) error {
	if addr == "" {
		addr = DefaultListen
	}
	if path == "" {
		path = DefaultPath
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(path, gin.WrapH(h))
	router.GET("/health", func(c *gin.Context) {
		c.IndentedJSON(http.StatusOK, gin.H{"clients": h.ClientCount()})
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go h.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{"addr": ln.Addr().String(), "path": path}).Info("websocket server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
