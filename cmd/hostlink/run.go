package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/hostlink/internal/config"
	"github.com/banshee-data/hostlink/internal/db"
	"github.com/banshee-data/hostlink/internal/serialport"
	"github.com/banshee-data/hostlink/internal/session"
	"github.com/banshee-data/hostlink/internal/telemetry"
	"github.com/banshee-data/hostlink/internal/timeutil"
)

// reconnectDelay is the pause between a failed session and the next attempt
// when -reconnect is set.
const reconnectDelay = 5 * time.Second

// deps are the process's outside-world collaborators.
type deps struct {
	locator    *serialport.Locator
	openLink   func(path string, opts serialport.PortOptions, readTimeout time.Duration) (*serialport.Link, error)
	clock      timeutil.Clock
	producer   session.Producer
	retryDelay time.Duration // between attempts with -reconnect
}

func defaultDeps() deps {
	clock := timeutil.RealClock{}
	return deps{
		locator:    serialport.NewLocator(),
		openLink:   serialport.Open,
		clock:      clock,
		producer:   telemetry.NewCollector(clock),
		retryDelay: reconnectDelay,
	}
}

// run serves the link until ctx is cancelled. Without reconnect the first
// failure (device missing, open error, transport error) is returned.
func run(ctx context.Context, cfg *config.BridgeConfig, reconnect bool, d deps) error {
	timing := session.TimingFromConfig(cfg)
	if err := timing.Validate(); err != nil {
		return err
	}

	var history *db.DB
	if path := cfg.GetDBPath(); path != "" {
		var err error
		if history, err = db.NewDB(path); err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer history.Close()
	}

	recorder := session.NewRecorder(session.DefaultRecorderSize)

	var wg sync.WaitGroup
	defer wg.Wait()
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if addr := cfg.GetListen(); addr != "" {
		mux := http.NewServeMux()
		recorder.AttachAdminRoutes(mux)
		if history != nil {
			history.AttachAdminRoutes(mux)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(serverCtx, addr, mux)
		}()
	}

	for {
		err := runOnce(ctx, cfg, timing, d, recorder, history)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil || !reconnect {
			return err
		}

		log.Printf("link lost: %v; retrying in %v", err, d.retryDelay)
		t := d.clock.NewTimer(d.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C():
		}
	}
}

// runOnce locates the device, opens it and runs one session to completion.
func runOnce(ctx context.Context, cfg *config.BridgeConfig, timing session.Timing, d deps, recorder *session.Recorder, history *db.DB) error {
	path := cfg.GetPortPath()
	if path == "" {
		found, err := d.locator.Find(cfg.GetSerialNumber())
		if err != nil {
			return err
		}
		path = found
	}

	opts := serialport.PortOptions{
		BaudRate: cfg.GetBaudRate(),
		DataBits: cfg.GetDataBits(),
		StopBits: cfg.GetStopBits(),
		Parity:   cfg.GetParity(),
	}
	link, err := d.openLink(path, opts, timing.ReadTimeout)
	if err != nil {
		return err
	}
	log.Printf("connected to %s at %s", path, opts)

	sinks := session.MultiSink{session.LogSink{}, recorder}
	if history != nil {
		sinks = append(sinks, db.NewHistorySink(history, path))
	}

	s, err := session.New(link, d.producer, session.Options{
		Clock:  d.clock,
		Timing: &timing,
		Sink:   sinks,
	})
	if err != nil {
		link.Close()
		return err
	}
	return s.Run(ctx)
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	log.Printf("debug server listening on %s", addr)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("debug server failed: %v", err)
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
