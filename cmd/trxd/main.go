package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/mdns"
	"github.com/rjboer/GoTRX/internal/sdr"
	"github.com/rjboer/GoTRX/internal/trxd"
)

type serverConfig struct {
	// Path is where the config was read from; not part of the file.
	Path       string  `toml:"-"`
	Listen     string  `toml:"listen"`
	Name       string  `toml:"name"`
	Advertise  bool    `toml:"advertise"`
	ToneOffset float64 `toml:"tone_offset"`
	Amplitude  float64 `toml:"amplitude"`
	LogLevel   string  `toml:"log_level"`
	LogFormat  string  `toml:"log_format"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Listen:     fmt.Sprintf(":%d", trxd.DefaultPort),
		Name:       "lms0",
		Advertise:  true,
		ToneOffset: 1e6,
		Amplitude:  0.5,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "trxd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path when it exists; a missing file means defaults.
func loadConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return serverConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(args []string, lookup func(string) (string, bool)) (serverConfig, error) {
	path := "trxd.toml"
	if v, ok := lookup("TRXD_CONFIG"); ok {
		path = v
	}
	defaults, err := loadConfig(path)
	if err != nil {
		return serverConfig{}, err
	}

	cfg := serverConfig{Path: path}
	fs := flag.NewFlagSet("trxd", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", envString(lookup, "TRXD_LISTEN", defaults.Listen), "TCP listen address")
	fs.StringVar(&cfg.Name, "name", envString(lookup, "TRXD_NAME", defaults.Name), "Simulated device name")
	fs.BoolVar(&cfg.Advertise, "advertise", envBool(lookup, "TRXD_ADVERTISE", defaults.Advertise), "Advertise over mDNS")
	fs.Float64Var(&cfg.ToneOffset, "tone-offset", envFloat(lookup, "TRXD_TONE_OFFSET", defaults.ToneOffset), "Baseband tone of the simulated RX signal in Hz")
	fs.Float64Var(&cfg.Amplitude, "amplitude", envFloat(lookup, "TRXD_AMPLITUDE", defaults.Amplitude), "Amplitude of the simulated RX tone")
	fs.StringVar(&cfg.LogLevel, "log-level", envString(lookup, "TRXD_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(lookup, "TRXD_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

// run serves until ctx ends. ready, when set, receives the bound address.
func run(ctx context.Context, args []string, lookup func(string) (string, bool), out io.Writer, ready chan<- string) error {
	cfg, err := parseConfig(args, lookup)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	logger := logging.New(level, format, out)

	dev := sdr.NewMock(cfg.Name)
	dev.ToneOffset = cfg.ToneOffset
	dev.Amplitude = cfg.Amplitude
	defer dev.Close()

	if err := watchTone(ctx, cfg.Path, dev, logger); err != nil {
		logger.Warn("config hot reload disabled", logging.Err(err))
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}

	if cfg.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		txt := []string{"serial=" + dev.Info().Serial, "protocol=" + strconv.Itoa(trxd.ProtocolVersion)}
		adv, err := mdns.Advertise("trxd on "+cfg.Name, port, txt)
		if err != nil {
			logger.Warn("mDNS advertisement unavailable", logging.Err(err))
		} else {
			defer adv.Shutdown()
			logger.Info("advertising", logging.F("service", mdns.Service), logging.F("port", port))
		}
	}

	return trxd.NewServer(dev, dev.Info(), logger).Serve(ctx, ln)
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}
