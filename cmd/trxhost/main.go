package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjboer/GoTRX/internal/app"
	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/mdns"
	"github.com/rjboer/GoTRX/internal/sdr"
	"github.com/rjboer/GoTRX/internal/telemetry"
	"github.com/rjboer/GoTRX/internal/trx"
	"github.com/rjboer/GoTRX/internal/trxd"
)

const defaultConfigPath = "trxhost.toml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "trxhost: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, lookup func(string) (string, bool), out io.Writer) error {
	configPath := envString(lookup, "TRX_CONFIG", defaultConfigPath)
	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg, err := parseConfig(args, lookup, persistentCfg)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	logger, err := newLogger(cfg, out)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	if cfg.discover {
		return listServers(ctx, out, cfg.dialTimeout)
	}

	devices, err := selectBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("select backend: %w", err)
	}

	var (
		reporters telemetry.MultiReporter
		hub       *telemetry.Hub
	)
	if cfg.webAddr != "" {
		hub = telemetry.NewHub(cfg.historyLimit, logger)
		reporters = append(reporters, hub)
		go func() {
			if err := telemetry.NewWebServer(cfg.webAddr, hub).Start(ctx); err != nil {
				logger.Error("web telemetry stopped", logging.Err(err))
			}
		}()
		logger.Info("web interface", logging.F("url", "http://localhost"+cfg.webAddr))
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	host, err := startHost(ctx, cfg, devices, reporters, logger)
	if err != nil {
		return err
	}
	if hub != nil {
		drv := host.Driver()
		hub.SetStatsSource(func() any { return drv.Stats() })
	}
	return runHost(ctx, host, logger)
}

func newLogger(cfg cliConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

func startHost(ctx context.Context, cfg cliConfig, devices sdr.Enumerator, reporter telemetry.Reporter, logger logging.Logger) (*app.Host, error) {
	host := app.NewHost(trx.Host{
		APIVersion: trx.APIVersion,
		Path:       cfg.configPath,
		Params:     cfg.params(),
		Devices:    devices,
		Logger:     logger,
		MarkerPath: cfg.markerPath,
	}, reporter, logger, app.Config{
		MinSampleRate: cfg.minSampleRate,
		RxChannels:    cfg.rxChannels,
		TxChannels:    cfg.txChannels,
		RxFreq:        cfg.rxFreq,
		TxFreq:        cfg.txFreq,
		Bandwidth:     cfg.bandwidth,
		RxGain:        cfg.rxGain,
		TxGain:        cfg.txGain,
		BlockSize:     cfg.blockSize,
		TxAdvance:     cfg.txAdvance,
		Blocks:        cfg.blocks,
		WarmupBlocks:  cfg.warmupBlocks,
		Loopback:      cfg.loopback,
	})
	if err := host.Init(ctx); err != nil {
		return nil, err
	}
	return host, nil
}

func runHost(ctx context.Context, host *app.Host, logger logging.Logger) error {
	logger.Info("streaming (Ctrl+C to stop)")
	res, err := host.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run host: %w", err)
	}
	logger.Info("summary",
		logging.F("rate", res.Rate.Rate.String()),
		logging.F("blocks", res.Blocks),
		logging.F("samples", res.Samples),
		logging.F("short_blocks", res.ShortBlocks),
		logging.F("write_errors", res.WriteErrors),
		logging.F("timestamp_skews", res.Stats.TimestampSkews),
		logging.F("calibration_failures", res.Stats.CalibrationFailures))
	return nil
}

func selectBackend(cfg cliConfig, logger logging.Logger) (sdr.Enumerator, error) {
	switch cfg.backend {
	case "mock":
		dev := sdr.NewMock("lms0")
		dev.ToneOffset = cfg.toneOffset
		return sdr.NewMockEnumerator(dev), nil
	case "trxd":
		opts := trxd.Options{Timeout: cfg.dialTimeout, Logger: logger}
		if cfg.sshHost != "" {
			up, err := trxd.NewSSHUploader(trxd.SSHConfig{
				Host:     cfg.sshHost,
				User:     cfg.sshUser,
				KeyPath:  cfg.sshKey,
				Password: cfg.sshPassword,
			})
			if err != nil {
				return nil, err
			}
			opts.Uploader = up
		}
		enum := trxd.NewEnumerator(opts, cfg.addrList()...)
		enum.Browse = cfg.browse
		if len(enum.Addrs) == 0 && !enum.Browse {
			return nil, errors.New("trxd backend needs -trxd-addrs or -mdns")
		}
		return enum, nil
	default:
		return nil, fmt.Errorf("unknown backend %s", cfg.backend)
	}
}

func listServers(ctx context.Context, out io.Writer, timeout time.Duration) error {
	start := time.Now()
	hosts, err := mdns.Discover(ctx, timeout)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	fmt.Fprintf(out, "Discovered %d trxd server(s) in %s\n", len(hosts), time.Since(start).Truncate(time.Millisecond))
	for i, h := range hosts {
		fmt.Fprintf(out, " #%d %s %s serial=%s\n", i, h.Instance, h.Addr(), h.TXTValue("serial"))
	}
	return nil
}
