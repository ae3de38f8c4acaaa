package sensor

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate of the USB bridge.
const DefaultBaudRate = 115200

// Serial reads conversions from an HX711 USB bridge that prints one signed
// integer per line. Ready reports whether a conversion arrived since the last
// Read.
type Serial struct {
	rc io.ReadCloser

	mu     sync.Mutex
	latest int32
	fresh  bool
	err    error

	done chan struct{}
}

// OpenSerial opens the bridge on port.
func OpenSerial(port string, baudRate int) (*Serial, error) {
	if port == "" {
		return nil, errors.New("serial port not configured")
	}
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", port)
	}
	logrus.WithFields(logrus.Fields{"port": port, "baudRate": baudRate}).Info("opened load cell bridge")
	return NewSerial(p), nil
}

// NewSerial starts reading conversions from rc.
func NewSerial(rc io.ReadCloser) *Serial {
	s := &Serial{rc: rc, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *Serial) readLoop() {
	defer close(s.done)

	sc := bufio.NewScanner(s.rc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			logrus.WithField("line", line).Debug("ignoring malformed bridge line")
			continue
		}
		s.mu.Lock()
		s.latest = int32(v)
		s.fresh = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.err = sc.Err()
	if s.err == nil {
		s.err = io.EOF
	}
	s.mu.Unlock()
}

func (s *Serial) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fresh
}

func (s *Serial) Read() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		if s.err != nil {
			return 0, s.err
		}
		return 0, ErrNotReady
	}
	s.fresh = false
	return s.latest, nil
}

// Close closes the port and waits for the reader to exit.
func (s *Serial) Close() error {
	err := s.rc.Close()
	<-s.done
	return err
}
