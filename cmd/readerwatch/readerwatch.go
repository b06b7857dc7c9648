package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/MeneDev/rfid-reader/cmd/internal/cliutil"
	"github.com/MeneDev/rfid-reader/hotplug"
	"github.com/google/gousb"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ConfigFile  string `required:"no" short:"c" long:"config" description:"YAML configuration file"`
	AllDevices  bool   `required:"no" short:"a" long:"all" description:"Report every USB device, not only readers"`
	Debug       bool   `required:"no" short:"d" long:"debug" description:"Enable debug logging"`
	ShowVersion bool   `required:"no" short:"v" long:"version" description:"Show version and exit"`
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

	cfg, err := cliutil.LoadConfig(opts.ConfigFile, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	if err := cliutil.ApplyLogConfig(cfg.Log, opts.Debug); err != nil {
		log.Fatal().Err(err).Msg("invalid log config")
	}

	var filter hotplug.Filter
	if !opts.AllDevices {
		filter = hotplug.VendorFilter(gousb.ID(cfg.Usb.VendorId), gousb.ID(cfg.Usb.ProductId))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor, err := hotplug.UdevMonitorNew(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("cannot monitor usb devices")
		return
	}
	defer monitor.Close()

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt)

	events := monitor.Events()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			evt := log.Info().
				Str("device", e.Id).
				Str("vendor", e.Vendor.String()).
				Str("product", e.Product.String())

			switch e.Presence {
			case hotplug.Present:
				evt.Msg("device present")
			case hotplug.Removed:
				evt.Msg("device removed")
			}
		case <-interruptChan:
			log.Info().Msg("Received Interrupt, shutting down")
			return
		}
	}
}
