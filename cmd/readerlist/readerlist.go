package main

import (
	"fmt"
	"io"
	"os"

	"github.com/MeneDev/rfid-reader/cmd/internal/cliutil"
	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/probe"
	"github.com/MeneDev/rfid-reader/transport"
	"github.com/jessevdk/go-flags"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ConfigFile  string   `required:"no" short:"c" long:"config" description:"YAML configuration file"`
	Transports  []string `required:"no" short:"t" long:"transport" description:"Transport to list (serial, bluetooth, usb, pcsc), repeatable"`
	Json        bool     `required:"no" short:"j" long:"json" description:"Print the result as JSON"`
	Debug       bool     `required:"no" short:"d" long:"debug" description:"Enable debug logging"`
	ShowVersion bool     `required:"no" short:"v" long:"version" description:"Show version and exit"`
}

type listedTransport struct {
	Transport string   `json:"transport"`
	Outcome   string   `json:"outcome"`
	Devices   []string `json:"devices"`
	Error     string   `json:"error,omitempty"`
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
	if err := cliutil.ApplyLogConfig(cfg.Log, opts.Debug); err != nil {
		log.Fatal().Err(err).Msg("invalid log config")
	}

	transports, err := transport.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create transports")
	}
	drv := driver.MultiDriverNew(transports...)
	defer drv.Close()

	order, _ := cfg.TransportOrder()
	listed := list(drv, order)

	if opts.Json {
		err = writeJson(os.Stdout, listed)
	} else {
		err = writeText(os.Stdout, listed)
	}
	if err != nil {
		log.Error().Err(err).Msg("cannot write result")
	}
}

func list(drv driver.Driver, order []driver.TransportKind) []listedTransport {
	result := make([]listedTransport, 0, len(order))
	for _, kind := range order {
		attempt := probe.Discover(drv, kind)
		entry := listedTransport{
			Transport: kind.String(),
			Outcome:   attempt.Outcome().String(),
			Devices:   []string{},
		}
		for _, d := range attempt.Devices {
			entry.Devices = append(entry.Devices, d.Id())
		}
		if attempt.Err != nil {
			entry.Error = attempt.Err.Error()
		}
		result = append(result, entry)
	}
	return result
}

func writeJson(out io.Writer, listed []listedTransport) error {
	return jsoniter.ConfigFastest.NewEncoder(out).Encode(listed)
}

func writeText(out io.Writer, listed []listedTransport) error {
	for _, entry := range listed {
		line := fmt.Sprintf("%-10s %s", entry.Transport, entry.Outcome)
		if entry.Error != "" {
			line += ": " + entry.Error
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
		for _, id := range entry.Devices {
			if _, err := fmt.Fprintf(out, "    %s\n", id); err != nil {
				return err
			}
		}
	}
	return nil
}
