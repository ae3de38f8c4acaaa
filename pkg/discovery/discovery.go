// Package discovery advertises the scale on the local network over mDNS, so
// apps can find the websocket endpoint without configuration.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/packet"
)

const (
	ServiceType   = "_scale._tcp"
	ServiceDomain = "local."
)

// Advertiser registers one mDNS service instance.
type Advertiser struct {
	mu       sync.Mutex
	server   *zeroconf.Server
	instance string
	port     int
	path     string
	version  string
}

// NewAdvertiser returns an advertiser for the websocket endpoint on port and
// path. An empty instance name defaults to "<hostname>-scale".
func NewAdvertiser(instance string, port int, path, version string) *Advertiser {
	if instance == "" {
		hostname, _ := os.Hostname()
		instance = hostname + "-scale"
	}
	return &Advertiser{instance: instance, port: port, path: path, version: version}
}

// TXT returns the TXT records: service UUID, websocket path and the
// characteristic UUID of every channel.
func (a *Advertiser) TXT() []string {
	txt := []string{
		"service=" + packet.ServiceUUID,
		"path=" + a.path,
		"version=" + a.version,
	}
	for _, ch := range packet.Channels() {
		txt = append(txt, fmt.Sprintf("%s=%s", ch, ch.UUID()))
	}
	return txt
}

func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(a.instance, ServiceType, ServiceDomain, a.port, a.TXT(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}
	a.server = server

	logrus.WithFields(logrus.Fields{
		"instance": a.instance,
		"service":  ServiceType,
		"port":     a.port,
	}).Info("advertising scale over mdns")
	return nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	logrus.Info("mdns advertisement stopped")
}

// PortOf extracts the port of a listen address such as ":8765".
func PortOf(listen string) (int, error) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
