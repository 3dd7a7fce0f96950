//go:build !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"tinygo.org/x/bluetooth"
)

func openSerial(name string, baud int, log *logrus.Entry) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serial %s read timeout: %w", name, err)
	}
	log.WithField("port", name).WithField("baud", baud).Info("serial open")
	return port, nil
}

// The sensor's Bluetooth module exposes its UART as one characteristic that
// notifies received bytes and accepts writes without response.
var (
	uartServiceUUID = bluetooth.New16BitUUID(0xFFE0)
	uartCharUUID    = bluetooth.New16BitUUID(0xFFE1)
)

// bleChunk is the largest write the module accepts with the default MTU.
const bleChunk = 20

var errNotFound = errors.New("ble: device not found")

type bleLink struct {
	dev  bluetooth.Device
	char bluetooth.DeviceCharacteristic
	log  *logrus.Entry

	rx      chan []byte
	pending []byte
	closed  chan struct{}
	once    sync.Once
}

// openBLE scans for a device whose local name or address equals target and
// connects to its UART characteristic.
func openBLE(ctx context.Context, target string, log *logrus.Entry) (*bleLink, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	log.WithField("target", target).Info("scanning")
	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if r.LocalName() != target && r.Address.String() != target {
				return
			}
			_ = a.StopScan()
			select {
			case found <- r:
			default:
			}
		})
	}()

	var res bluetooth.ScanResult
	select {
	case res = <-found:
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("ble: scan: %w", err)
		}
		select {
		case res = <-found:
		default:
			return nil, fmt.Errorf("ble %s: %w", target, errNotFound)
		}
	case <-ctx.Done():
		_ = adapter.StopScan()
		return nil, ctx.Err()
	}

	dev, err := adapter.Connect(res.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connect %s: %w", res.Address.String(), err)
	}
	log = log.WithField("addr", res.Address.String())
	log.Info("connected")

	l, err := newBLELink(dev, log)
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}
	return l, nil
}

func newBLELink(dev bluetooth.Device, log *logrus.Entry) (*bleLink, error) {
	svcs, err := dev.DiscoverServices([]bluetooth.UUID{uartServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover service: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: no UART service: %w", errNotFound)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{uartCharUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristic: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: no UART characteristic: %w", errNotFound)
	}

	l := &bleLink{
		dev:    dev,
		char:   chars[0],
		log:    log,
		rx:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	if err := l.char.EnableNotifications(l.notify); err != nil {
		return nil, fmt.Errorf("ble: enable notifications: %w", err)
	}
	return l, nil
}

func (l *bleLink) notify(buf []byte) {
	b := append([]byte(nil), buf...)
	select {
	case l.rx <- b:
	default:
		l.log.WithField("bytes", len(b)).Warn("ble receive overflow")
	}
}

func (l *bleLink) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		select {
		case l.pending = <-l.rx:
		case <-l.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *bleLink) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), bleChunk)
		if _, err := l.char.WriteWithoutResponse(p[:n]); err != nil {
			return written, fmt.Errorf("ble: write: %w", err)
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

func (l *bleLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return l.dev.Disconnect()
}
