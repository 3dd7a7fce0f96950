// Package web serves the live ride feed to dashboards over websockets.
package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Pjottos/gocycling-controller/internal/hostlink"
)

const writeWait = time.Second

// Message is one JSON frame sent to dashboards.
type Message struct {
	Type     string        `json:"type"`
	Time     time.Time     `json:"time"`
	Elapsed  int64         `json:"elapsedMillis,omitempty"`
	SpeedKPH float64       `json:"speedKph,omitempty"`
	Ride     *RideSnapshot `json:"ride,omitempty"`
}

type RideSnapshot struct {
	Source    string    `json:"source"`
	Started   time.Time `json:"started"`
	Ended     time.Time `json:"ended"`
	Cycles    uint16    `json:"cycles"`
	Millis    uint32    `json:"millis"`
	DistanceM float64   `json:"distanceM"`
}

func snapshot(r hostlink.Ride) *RideSnapshot {
	return &RideSnapshot{
		Source:    string(r.Source),
		Started:   r.Started,
		Ended:     r.Ended,
		Cycles:    r.Session.CycleCount,
		Millis:    r.Session.AccumulatedMillis,
		DistanceM: r.Distance,
	}
}

// SampleMessage reports one live cycle.
func SampleMessage(s hostlink.Sample) Message {
	return Message{
		Type:     "cycle",
		Time:     s.Time,
		Elapsed:  s.Elapsed.Milliseconds(),
		SpeedKPH: s.SpeedKPH,
		Ride:     snapshot(s.Ride),
	}
}

// RideMessage reports a finished ride.
func RideMessage(r hostlink.Ride) Message {
	return Message{Type: "ride", Time: r.Ended, Ride: snapshot(r)}
}

// Command is a dashboard request.
type Command struct {
	Type string `json:"type"`
}

// Hub fans messages out to every connected dashboard.
type Hub struct {
	log       *logrus.Entry
	upgrader  websocket.Upgrader
	onCommand func(Command) error

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub returns a Hub. onCommand may be nil, in which case dashboard
// requests are ignored.
func NewHub(log *logrus.Entry, onCommand func(Command) error) *Hub {
	return &Hub{
		log:       log,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		onCommand: onCommand,
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends msg to every dashboard, dropping the ones that fail.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(msg); err != nil {
			h.log.WithError(err).WithField("remote", c.RemoteAddr().String()).Debug("dashboard dropped")
			_ = c.Close()
			delete(h.clients, c)
		}
	}
}

// ServeHTTP upgrades the request and serves one dashboard until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade")
		return
	}
	remote := conn.RemoteAddr().String()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.log.WithField("remote", remote).Info("dashboard connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
		h.log.WithField("remote", remote).Info("dashboard disconnected")
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if h.onCommand == nil {
			continue
		}
		if err := h.onCommand(cmd); err != nil {
			h.log.WithError(err).WithField("cmd", cmd.Type).Warn("dashboard command")
		}
	}
}

// Serve runs an HTTP server with the hub on /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	server := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		h.log.WithField("addr", addr).Info("web hub listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
