//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const hostDefaultBaudRate = 9600

var errRxEnabled = errors.New("serial: receive already enabled")

// hostSerial emulates the UART. Once receive is enabled for the first time a
// reader goroutine owns the port's read side and dispatches bytes to the
// current handler; bytes arriving while receive is disabled are discarded.
type hostSerial struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
	c  io.Closer

	rxMu    sync.Mutex
	handler func(b byte)
	reader  sync.Once
	log     *logrus.Entry
}

func openHostSerial(cfg HostConfig, log *logrus.Entry) (*hostSerial, error) {
	if cfg.SerialPort == "" {
		return &hostSerial{r: os.Stdin, w: os.Stdout, log: log}, nil
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = hostDefaultBaudRate
	}
	port, err := serial.Open(cfg.SerialPort, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.SerialPort, err)
	}
	// Reads return (0, nil) after the timeout so AT exchanges can poll.
	if err := port.SetReadTimeout(10 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serial %s read timeout: %w", cfg.SerialPort, err)
	}
	log.WithField("port", cfg.SerialPort).WithField("baud", baud).Info("serial open")
	return &hostSerial{r: port, w: port, c: port, log: log}, nil
}

func newPipeSerial(r io.Reader, w io.Writer) *hostSerial {
	return &hostSerial{r: r, w: w, log: logrus.NewEntry(logrus.StandardLogger())}
}

func (s *hostSerial) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, ErrNotImplemented
	}
	return s.r.Read(p)
}

func (s *hostSerial) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, ErrNotImplemented
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *hostSerial) EnableRx(handler func(b byte)) (io.Closer, error) {
	if s.r == nil {
		return nil, ErrNotImplemented
	}
	s.rxMu.Lock()
	if s.handler != nil {
		s.rxMu.Unlock()
		return nil, errRxEnabled
	}
	s.handler = handler
	s.rxMu.Unlock()

	s.reader.Do(func() { go s.readLoop() })
	return rxHandle{s: s}, nil
}

func (s *hostSerial) current() func(b byte) {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()
	return s.handler
}

func (s *hostSerial) readLoop() {
	var buf [64]byte
	for {
		n, err := s.r.Read(buf[:])
		if h := s.current(); h != nil {
			for _, b := range buf[:n] {
				h(b)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Error("serial read")
			}
			return
		}
	}
}

func (s *hostSerial) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

type rxHandle struct {
	s *hostSerial
}

func (h rxHandle) Close() error {
	h.s.rxMu.Lock()
	defer h.s.rxMu.Unlock()
	h.s.handler = nil
	return nil
}
