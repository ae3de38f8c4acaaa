package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/transport"
)

type fakeCommander struct {
	mu    sync.Mutex
	tares int
	units []scale.Unit
}

func (f *fakeCommander) Tare() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tares++
	return nil
}

func (f *fakeCommander) Calibrate(float64) error { return nil }

func (f *fakeCommander) SetUnit(u scale.Unit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = append(f.units, u)
	return nil
}

func (f *fakeCommander) snapshot() (int, []scale.Unit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tares, append([]scale.Unit(nil), f.units...)
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (packet.Channel, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	ch, payload, err := transport.Unframe(msg)
	require.NoError(t, err)
	return ch, payload
}

func TestHub_BroadcastAndCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := &fakeCommander{}
	h := NewHub(cmd)
	go h.Run(ctx)

	// A battery level published before the client connects is replayed.
	require.NoError(t, h.SendBattery(77))
	require.Eventually(t, func() bool { return len(h.broadcast) == 0 }, 2*time.Second, time.Millisecond)

	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ch, payload := readFrame(t, conn)
	assert.Equal(t, packet.ChannelBattery, ch)
	assert.Equal(t, []byte{77}, payload)

	report := packet.Encode(scale.State{LastFiltered: 123.5, Stable: true}, 77)
	require.NoError(t, h.SendWeight(report))
	ch, payload = readFrame(t, conn)
	assert.Equal(t, packet.ChannelWeight, ch)
	r, err := packet.Decode(payload)
	require.NoError(t, err)
	assert.InDelta(t, 123.5, r.Weight, 1e-6)

	require.NoError(t, h.SendStatus("123.5 g stable ok"))
	ch, payload = readFrame(t, conn)
	assert.Equal(t, packet.ChannelStatus, ch)
	assert.Equal(t, "123.5 g stable ok", string(payload))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(packet.ChannelTare)}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(packet.ChannelSettings), 9}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(packet.ChannelSettings), 2}))

	require.Eventually(t, func() bool {
		tares, units := cmd.snapshot()
		return tares == 1 && len(units) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, units := cmd.snapshot()
	assert.Equal(t, []scale.Unit{scale.UnitPounds}, units)
}

func TestHub_Disconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	go h.Run(ctx)

	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
