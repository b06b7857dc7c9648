// Package cliutil holds the start-up code shared by the command line tools.
package cliutil

import (
	"fmt"
	"os"
	"runtime"

	"github.com/MeneDev/rfid-reader/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Version string = "<unknown>"
var BuildDate string = "<unknown>"
var BuildNumber string = "<unknown>"
var BuildCommit string = "<unknown>"

func ShowVersion() {
	format := "%-13s%s\n"
	fmt.Printf(format, "Version:", Version)
	fmt.Printf(format, "BuildDate:", BuildDate)
	fmt.Printf(format, "BuildNumber:", BuildNumber)
	fmt.Printf(format, "BuildCommit:", BuildCommit)
	fmt.Printf(format, "Compiler:", runtime.Compiler)
	fmt.Printf(format, "Architecture:", runtime.GOARCH)
	fmt.Printf(format, "OS:", runtime.GOOS)
	fmt.Printf(format, "Go version:", runtime.Version())
}

// LogPanic is deferred first thing in main.
func LogPanic() {
	if r := recover(); r != nil {
		evt := log.Error()

		switch v := r.(type) {
		case string:
			evt.Str("error", v)
		case error:
			evt.Err(v)
		default:
			evt.Str("error", fmt.Sprintf("%v", v))
		}

		evt.Msg("panicked")
		os.Exit(2)
	}
}

// SetupLogging installs the console writer right away, so that flag errors are readable.
func SetupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    true,
		TimeFormat: "2006/01/02 15:04:05",
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// ApplyLogConfig switches to the configured format and level. debug overrides the level.
func ApplyLogConfig(cfg config.LogConfig, debug bool) error {
	level, err := cfg.ParseLevel()
	if err != nil {
		return err
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

// LoadConfig loads path and overrides the transport order when transports is not empty.
func LoadConfig(path string, transports []string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if len(transports) > 0 {
		cfg.Transports = transports
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
