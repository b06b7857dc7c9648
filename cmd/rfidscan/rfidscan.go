package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeneDev/rfid-reader/cmd/internal/cliutil"
	"github.com/MeneDev/rfid-reader/config"
	"github.com/MeneDev/rfid-reader/hotplug"
	"github.com/MeneDev/rfid-reader/session"
	"github.com/MeneDev/rfid-reader/transport"
	"github.com/google/gousb"
	"github.com/jessevdk/go-flags"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

type eventKind int

const (
	_                               = iota
	eventConnected        eventKind = iota
	eventDisconnected     eventKind = iota
	eventConnectionError  eventKind = iota
	eventEpc              eventKind = iota
	eventInventoryStarted eventKind = iota
	eventInventoryStopped eventKind = iota
	eventError            eventKind = iota
)

type sessionEvent struct {
	kind eventKind
	text string
}

func main() {
	defer cliutil.LogPanic()
	cliutil.SetupLogging()

	var opts Options
	_, err := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash).Parse()
	if opts.ShowVersion {
		cliutil.ShowVersion()
		os.Exit(0)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("cannot parse flags")
	}

	cfg, err := cliutil.LoadConfig(opts.ConfigFile, opts.Transports)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	if opts.All {
		cfg.ReadPolicy = session.WholeBatch.String()
	}
	if err := cliutil.ApplyLogConfig(cfg.Log, opts.Debug); err != nil {
		log.Fatal().Err(err).Msg("invalid log config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	code := run(ctx, cfg, opts)
	log.Debug().Msg("Canceling root context")
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, opts Options) int {
	events := make(chan sessionEvent, 64)
	emit := func(kind eventKind, text string) {
		select {
		case events <- sessionEvent{kind: kind, text: text}:
		case <-ctx.Done():
		}
	}

	callbacks := session.Callbacks{
		Connected:        func() { emit(eventConnected, "") },
		Disconnected:     func() { emit(eventDisconnected, "") },
		ConnectionError:  func(message string) { emit(eventConnectionError, message) },
		EpcRead:          func(epc string) { emit(eventEpc, epc) },
		InventoryStarted: func() { emit(eventInventoryStarted, "") },
		InventoryStopped: func() { emit(eventInventoryStopped, "") },
		Error:            func(message string) { emit(eventError, message) },
	}

	sessionOpts, err := cfg.SessionOptions()
	if err != nil {
		log.Error().Err(err).Msg("invalid session config")
		return 1
	}

	s, err := session.ReaderSessionNew(ctx, transport.DriverFactory(cfg), callbacks, sessionOpts...)
	if err != nil {
		log.Error().Err(err).Msg("cannot create session")
		return 1
	}
	defer s.Close()

	printer := &readPrinter{out: os.Stdout, json: opts.Json, session: s.Id()}

	var plugged <-chan hotplug.Event
	if opts.Watch {
		filter := hotplug.VendorFilter(gousb.ID(cfg.Usb.VendorId), gousb.ID(cfg.Usb.ProductId))
		mon, err := hotplug.UdevMonitorNew(ctx, filter)
		if err != nil {
			log.Warn().Err(err).Msg("hotplug monitoring not available")
		} else {
			defer mon.Close()
			plugged = mon.Events()
		}
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	connecting := true
	tearingDown := false
	s.Initialize()
	s.Connect()

	for {
		select {
		case <-ctx.Done():
			return 0

		case ev := <-events:
			switch ev.kind {
			case eventConnected:
				connecting = false
				log.Info().Str("session", s.Id()).Str("state", string(s.State())).Msg("reader connected")
				if opts.Scan && !s.IsScanning() {
					s.StartInventory()
				}
			case eventConnectionError:
				connecting = false
				log.Error().Str("error", ev.text).Msg("cannot connect")
				if !opts.Watch {
					return 1
				}
			case eventEpc:
				printer.print(ev.text)
			case eventInventoryStarted:
				log.Info().Msg("inventory started")
			case eventInventoryStopped:
				log.Info().Msg("inventory stopped")
			case eventError:
				log.Error().Str("error", ev.text).Msg("reader error")
			case eventDisconnected:
				if tearingDown {
					tearingDown = false
					log.Info().Msg("waiting for a reader")
					break
				}
				log.Warn().Msg("reader disconnected")
				if !opts.Watch {
					shutdown(s, events, printer)
					return 1
				}
				tearingDown = true
				s.Disconnect()
			}

		case e, ok := <-plugged:
			if !ok {
				plugged = nil
				break
			}
			log.Info().Str("device", e.Id).Str("presence", e.Presence.String()).Msg("usb reader")
			if e.Presence == hotplug.Present && !connecting && !s.IsConnected() {
				connecting = true
				s.Initialize()
				s.Connect()
			}

		case <-interruptChan:
			log.Info().Msg("Received Interrupt, shutting down")
			shutdown(s, events, printer)
			return 0
		}
	}
}

// shutdown stops the reader and waits for the disconnection to be confirmed.
func shutdown(s session.ReaderSession, events <-chan sessionEvent, printer *readPrinter) {
	if s.IsScanning() {
		s.StopInventory()
	}
	s.Disconnect()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case eventEpc:
				printer.print(ev.text)
			case eventDisconnected:
				if s.State() == session.StateDisconnected {
					return
				}
			}
		case <-timeout:
			log.Warn().Msg("reader did not disconnect in time")
			return
		}
	}
}

type readRecord struct {
	Epc     string    `json:"epc"`
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
}

type readPrinter struct {
	out     io.Writer
	json    bool
	session string
	now     func() time.Time
}

func (p *readPrinter) print(epc string) {
	if !p.json {
		fmt.Fprintln(p.out, epc)
		return
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	data, err := jsoniter.ConfigFastest.Marshal(readRecord{Epc: epc, Session: p.session, Time: now().UTC()})
	if err != nil {
		log.Error().Err(err).Msg("cannot encode read")
		return
	}
	_, _ = p.out.Write(append(data, '\n'))
}
