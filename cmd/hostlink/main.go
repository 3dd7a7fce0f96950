//go:build !tinygo

// Command hostlink is the companion side of the gocycling sensor: it drives
// sessions, prints and republishes the live feed, stores rides and uploads
// firmware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Pjottos/gocycling-controller/internal/buildinfo"
	"github.com/Pjottos/gocycling-controller/internal/hostlink"
	"github.com/Pjottos/gocycling-controller/internal/ridestore"
	"github.com/Pjottos/gocycling-controller/internal/web"
	"github.com/Pjottos/gocycling-controller/update"
)

type options struct {
	port          string
	baud          int
	ble           string
	logLevel      string
	wsAddr        string
	mongoURI      string
	database      string
	circumference float64
	active        bool
	ackTimeout    time.Duration
}

const usage = `usage: hostlink [flags] <command> [args]

commands:
  monitor            announce the host and print the feed
  start              start a live session, stop it on interrupt
  continue           continue the offline ride, stop it on interrupt
  stop               stop the running session
  upload <file.uf2>  upload a firmware image
  rides              list stored rides (needs -mongo)

flags:
`

func main() {
	var opts options
	flag.StringVar(&opts.port, "port", "", "Serial port of the Bluetooth adapter.")
	flag.IntVar(&opts.baud, "baud", 9600, "Serial baud rate.")
	flag.StringVar(&opts.ble, "ble", "", "Connect over BLE to this device name or address instead of -port.")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level.")
	flag.StringVar(&opts.wsAddr, "ws", "", "Serve the live feed on this address (e.g. :8080).")
	flag.StringVar(&opts.mongoURI, "mongo", os.Getenv("MONGODB_URI"), "MongoDB URI for ride storage.")
	flag.StringVar(&opts.database, "db", ridestore.DefaultDatabase, "MongoDB database.")
	flag.Float64Var(&opts.circumference, "circumference", hostlink.DefaultCircumference, "Wheel circumference in metres.")
	flag.BoolVar(&opts.active, "active", true, "Handshake with a session active so offline rides are handed over.")
	flag.DurationVar(&opts.ackTimeout, "ack-timeout", hostlink.DefaultAckTimeout, "Firmware record acknowledgement timeout.")
	version := flag.Bool("version", false, "Print the version and exit.")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("hostlink", buildinfo.String())
		return
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts, flag.Args()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)
	return logrus.NewEntry(l), nil
}

func run(ctx context.Context, opts options, args []string) error {
	log, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}

	var store *ridestore.Store
	if opts.mongoURI != "" {
		store, err = ridestore.Connect(ctx, opts.mongoURI, opts.database, log.WithField("component", "ridestore"))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close(context.Background()) }()
	}

	cmd := args[0]
	if cmd == "rides" {
		if store == nil {
			return errors.New("rides needs -mongo")
		}
		return listRides(ctx, store)
	}

	link, err := openLink(ctx, opts, log)
	if err != nil {
		return err
	}
	defer link.Close()

	s := &session{
		log:     log,
		tracker: hostlink.NewTracker(opts.circumference),
		store:   store,
	}
	s.client = hostlink.New(link, hostlink.Options{
		Log:     log.WithField("component", "hostlink"),
		OnEvent: s.onEvent,
	})
	if opts.wsAddr != "" {
		s.hub = web.NewHub(log.WithField("component", "web"), s.onCommand)
		go func() {
			if err := s.hub.Serve(ctx, opts.wsAddr); err != nil {
				log.WithError(err).Error("web hub")
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- s.client.Run(ctx) }()

	switch cmd {
	case "monitor":
		if err := s.client.Handshake(opts.active); err != nil {
			return err
		}
		return s.follow(ctx, runErr)
	case "start":
		if err := s.start(); err != nil {
			return err
		}
		return s.followSession(ctx, runErr)
	case "continue":
		s.tracker.Begin(time.Now())
		if err := s.client.ContinueSession(); err != nil {
			return err
		}
		return s.followSession(ctx, runErr)
	case "stop":
		return s.client.StopSession()
	case "upload":
		if len(args) != 2 {
			return errors.New("upload needs a .uf2 file")
		}
		return s.upload(ctx, args[1], opts.ackTimeout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openLink(ctx context.Context, opts options, log *logrus.Entry) (io.ReadWriteCloser, error) {
	switch {
	case opts.ble != "":
		return openBLE(ctx, opts.ble, log.WithField("component", "ble"))
	case opts.port != "":
		return openSerial(opts.port, opts.baud, log.WithField("component", "serial"))
	default:
		return nil, errors.New("one of -port or -ble is required")
	}
}

type session struct {
	log     *logrus.Entry
	client  *hostlink.Client
	tracker *hostlink.Tracker
	hub     *web.Hub
	store   *ridestore.Store
}

func (s *session) onEvent(ev hostlink.Event) {
	sample, ride := s.tracker.Handle(ev)
	switch {
	case sample != nil:
		s.log.WithFields(logrus.Fields{
			"elapsed": sample.Elapsed,
			"kph":     fmt.Sprintf("%.1f", sample.SpeedKPH),
			"cycles":  sample.Ride.Session.CycleCount,
		}).Info("cycle")
		if s.hub != nil {
			s.hub.Broadcast(web.SampleMessage(*sample))
		}
	case ride != nil:
		s.log.WithFields(logrus.Fields{
			"cycles":   ride.Session.CycleCount,
			"duration": time.Duration(ride.Session.AccumulatedMillis) * time.Millisecond,
		}).Info("offline ride received")
		s.finished(*ride)
	}
}

func (s *session) onCommand(cmd web.Command) error {
	switch cmd.Type {
	case "start":
		return s.start()
	case "stop":
		return s.stop()
	case "handshake":
		return s.client.Handshake(true)
	default:
		return fmt.Errorf("unknown dashboard command %q", cmd.Type)
	}
}

func (s *session) start() error {
	now := time.Now()
	if prev, ok := s.tracker.Begin(now); ok {
		s.finished(prev)
	}
	return s.client.StartSession(now)
}

func (s *session) stop() error {
	err := s.client.StopSession()
	if r, ok := s.tracker.Finish(time.Now()); ok {
		s.finished(r)
	}
	return err
}

func (s *session) finished(r hostlink.Ride) {
	if s.hub != nil {
		s.hub.Broadcast(web.RideMessage(r))
	}
	if s.store == nil || r.Session.CycleCount == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Save(ctx, r); err != nil {
		s.log.WithError(err).Error("save ride")
	}
}

func (s *session) follow(ctx context.Context, runErr <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-runErr:
		return err
	}
}

// followSession follows the feed and stops the session when interrupted.
func (s *session) followSession(ctx context.Context, runErr <-chan error) error {
	err := s.follow(ctx, runErr)
	if stopErr := s.stop(); err == nil {
		err = stopErr
	}
	return err
}

func (s *session) upload(ctx context.Context, path string, ackTimeout time.Duration) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	chunks, err := update.Split(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	start := time.Now()
	err = s.client.Upload(ctx, chunks, hostlink.UploadOptions{
		AckTimeout: ackTimeout,
		Progress: func(accepted, total int) {
			s.log.WithField("accepted", accepted).WithField("total", total).Info("chunk accepted")
		},
	})
	if err != nil {
		return err
	}
	s.log.WithField("took", time.Since(start).Round(time.Millisecond)).Info("firmware uploaded, device rebooting")
	return nil
}

func listRides(ctx context.Context, store *ridestore.Store) error {
	docs, err := store.Recent(ctx, 20)
	if err != nil {
		return err
	}
	for _, d := range docs {
		r := d.Ride()
		fmt.Printf("%s  %-7s  %5d cycles  %8s  %6.2f km\n",
			r.Started.Local().Format("2006-01-02 15:04"), r.Source, r.Session.CycleCount,
			(time.Duration(r.Session.AccumulatedMillis) * time.Millisecond).Round(time.Second),
			r.Distance/1000)
	}
	for _, src := range []hostlink.Source{hostlink.SourceLive, hostlink.SourceOffline} {
		n, dist, err := store.Totals(ctx, src)
		if err != nil {
			return err
		}
		fmt.Printf("total %-7s  %d rides  %.1f km\n", src, n, dist/1000)
	}
	return nil
}
