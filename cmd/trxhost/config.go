package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rjboer/GoTRX/internal/trx"
)

type cliConfig struct {
	logLevel  string
	logFormat string

	backend     string
	addrs       string
	browse      bool
	dialTimeout time.Duration
	sshHost     string
	sshUser     string
	sshKey      string
	sshPassword string

	sampleRateMHz float64
	decInter      int
	deviceIndex   int
	tcxoCalc      int
	configPath    string
	configFile    string
	calibration   string
	markerPath    string

	minSampleRate int
	rxChannels    int
	txChannels    int
	rxFreq        float64
	txFreq        float64
	bandwidth     float64
	rxGain        float64
	txGain        float64
	blockSize     int
	txAdvance     int
	blocks        int
	warmupBlocks  int
	loopback      bool
	toneOffset    float64

	historyLimit int
	webAddr      string
	discover     bool
}

type persistentConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Backend     string   `toml:"backend"`
	Addrs       []string `toml:"trxd_addrs"`
	Browse      bool     `toml:"mdns"`
	DialTimeout string   `toml:"dial_timeout"`
	SSHHost     string   `toml:"ssh_host"`
	SSHUser     string   `toml:"ssh_user"`
	SSHKey      string   `toml:"ssh_key"`

	SampleRateMHz float64 `toml:"sample_rate"`
	DecInter      int     `toml:"dec_inter"`
	DeviceIndex   int     `toml:"lms7002_index"`
	TCXOCalc      int     `toml:"tcxo_calc"`
	ConfigPath    string  `toml:"config_path"`
	ConfigFile    string  `toml:"config_file"`
	Calibration   string  `toml:"calibration"`
	MarkerPath    string  `toml:"marker_path"`

	MinSampleRate int     `toml:"min_sample_rate"`
	RxChannels    int     `toml:"rx_channels"`
	TxChannels    int     `toml:"tx_channels"`
	RxFreq        float64 `toml:"rx_freq"`
	TxFreq        float64 `toml:"tx_freq"`
	Bandwidth     float64 `toml:"bandwidth"`
	RxGain        float64 `toml:"rx_gain"`
	TxGain        float64 `toml:"tx_gain"`
	BlockSize     int     `toml:"block_size"`
	TxAdvance     int     `toml:"tx_advance"`
	Blocks        int     `toml:"blocks"`
	WarmupBlocks  int     `toml:"warmup_blocks"`
	Loopback      bool    `toml:"loopback"`
	ToneOffset    float64 `toml:"mock_tone_offset"`

	HistoryLimit int    `toml:"history_limit"`
	WebAddr      string `toml:"web_addr"`
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		LogLevel:      "info",
		LogFormat:     "text",
		Backend:       "mock",
		DialTimeout:   "5s",
		SSHUser:       "root",
		TCXOCalc:      -1,
		ConfigPath:    ".",
		Calibration:   "force",
		MarkerPath:    trx.DefaultMarkerPath,
		MinSampleRate: 23_040_000,
		RxChannels:    1,
		TxChannels:    1,
		RxFreq:        2_680e6,
		TxFreq:        2_560e6,
		Bandwidth:     20e6,
		RxGain:        40,
		TxGain:        60,
		WarmupBlocks:  3,
		Loopback:      true,
		ToneOffset:    1e6,
		HistoryLimit:  500,
		WebAddr:       ":8080",
	}
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("trxhost", flag.ContinueOnError)
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "TRX_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "TRX_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	fs.StringVar(&cfg.backend, "backend", envString(lookup, "TRX_BACKEND", defaults.Backend), "Device backend (mock|trxd)")
	fs.StringVar(&cfg.addrs, "trxd-addrs", envString(lookup, "TRX_TRXD_ADDRS", strings.Join(defaults.Addrs, ",")), "Comma separated trxd server addresses")
	fs.BoolVar(&cfg.browse, "mdns", envBool(lookup, "TRX_MDNS", defaults.Browse), "Discover trxd servers over mDNS")
	fs.DurationVar(&cfg.dialTimeout, "dial-timeout", envDuration(lookup, "TRX_DIAL_TIMEOUT", parseDurationOr(defaults.DialTimeout, 5*time.Second)), "trxd request timeout")
	fs.StringVar(&cfg.sshHost, "ssh-host", envString(lookup, "TRX_SSH_HOST", defaults.SSHHost), "Upload register images to this host before loading")
	fs.StringVar(&cfg.sshUser, "ssh-user", envString(lookup, "TRX_SSH_USER", defaults.SSHUser), "SSH user for uploads")
	fs.StringVar(&cfg.sshKey, "ssh-key", envString(lookup, "TRX_SSH_KEY", defaults.SSHKey), "SSH private key for uploads")
	cfg.sshPassword = envString(lookup, "TRX_SSH_PASSWORD", "")

	fs.Float64Var(&cfg.sampleRateMHz, "sample-rate", envFloat(lookup, "TRX_SAMPLE_RATE", defaults.SampleRateMHz), "Fixed sample rate in MHz (0 = negotiate from table)")
	fs.IntVar(&cfg.decInter, "dec-inter", envInt(lookup, "TRX_DEC_INTER", defaults.DecInter), "Decimation/interpolation factor")
	fs.IntVar(&cfg.deviceIndex, "device-index", envInt(lookup, "TRX_DEVICE_INDEX", defaults.DeviceIndex), "Index of the board to open")
	fs.IntVar(&cfg.tcxoCalc, "tcxo-calc", envInt(lookup, "TRX_TCXO_CALC", defaults.TCXOCalc), "VCTCXO DAC value 0..255 (-1 = leave alone)")
	fs.StringVar(&cfg.configPath, "config-path", envString(lookup, "TRX_CONFIG_PATH", defaults.ConfigPath), "Base directory for register images")
	fs.StringVar(&cfg.configFile, "config-file", envString(lookup, "TRX_CONFIG_FILE", defaults.ConfigFile), "Register image, relative to config-path")
	fs.StringVar(&cfg.calibration, "calibration", envString(lookup, "TRX_CALIBRATION", defaults.Calibration), "Calibration mode (force|none)")
	fs.StringVar(&cfg.markerPath, "marker-path", envString(lookup, "TRX_MARKER_PATH", defaults.MarkerPath), "Streaming marker file")

	fs.IntVar(&cfg.minSampleRate, "min-sample-rate", envInt(lookup, "TRX_MIN_SAMPLE_RATE", defaults.MinSampleRate), "Minimum acceptable sample rate in Hz")
	fs.IntVar(&cfg.rxChannels, "rx-channels", envInt(lookup, "TRX_RX_CHANNELS", defaults.RxChannels), "RX channel count")
	fs.IntVar(&cfg.txChannels, "tx-channels", envInt(lookup, "TRX_TX_CHANNELS", defaults.TxChannels), "TX channel count")
	fs.Float64Var(&cfg.rxFreq, "rx-freq", envFloat(lookup, "TRX_RX_FREQ", defaults.RxFreq), "RX LO frequency in Hz")
	fs.Float64Var(&cfg.txFreq, "tx-freq", envFloat(lookup, "TRX_TX_FREQ", defaults.TxFreq), "TX LO frequency in Hz")
	fs.Float64Var(&cfg.bandwidth, "bandwidth", envFloat(lookup, "TRX_BANDWIDTH", defaults.Bandwidth), "RF bandwidth in Hz")
	fs.Float64Var(&cfg.rxGain, "rx-gain", envFloat(lookup, "TRX_RX_GAIN", defaults.RxGain), "RX gain in dB")
	fs.Float64Var(&cfg.txGain, "tx-gain", envFloat(lookup, "TRX_TX_GAIN", defaults.TxGain), "TX gain in dB")
	fs.IntVar(&cfg.blockSize, "block-size", envInt(lookup, "TRX_BLOCK_SIZE", defaults.BlockSize), "Samples per read (0 = one TX packet)")
	fs.IntVar(&cfg.txAdvance, "tx-advance", envInt(lookup, "TRX_TX_ADVANCE", defaults.TxAdvance), "Loopback schedule ahead of RX, in samples")
	fs.IntVar(&cfg.blocks, "blocks", envInt(lookup, "TRX_BLOCKS", defaults.Blocks), "Blocks to stream (0 = until interrupted)")
	fs.IntVar(&cfg.warmupBlocks, "warmup-blocks", envInt(lookup, "TRX_WARMUP_BLOCKS", defaults.WarmupBlocks), "Blocks to discard after start")
	fs.BoolVar(&cfg.loopback, "loopback", envBool(lookup, "TRX_LOOPBACK", defaults.Loopback), "Transmit every received block back")
	fs.Float64Var(&cfg.toneOffset, "mock-tone-offset", envFloat(lookup, "TRX_MOCK_TONE_OFFSET", defaults.ToneOffset), "Baseband tone of the mock device in Hz")

	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "TRX_HISTORY_LIMIT", defaults.HistoryLimit), "Blocks kept in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "TRX_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.BoolVar(&cfg.discover, "discover", false, "List trxd servers found over mDNS and exit")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if cfg.backend != "mock" && cfg.backend != "trxd" {
		return cliConfig{}, fmt.Errorf("unknown backend %q", cfg.backend)
	}
	return cfg, nil
}

// params renders the driver parameters the way a baseband host would pass
// them. Unset values are left out so the driver applies its own defaults.
func (c cliConfig) params() trx.MapParams {
	p := trx.MapParams{"lms7002_index": strconv.Itoa(c.deviceIndex)}
	if c.sampleRateMHz > 0 {
		p["sample_rate"] = strconv.FormatFloat(c.sampleRateMHz, 'f', -1, 64)
	}
	if c.decInter > 0 {
		p["dec_inter"] = strconv.Itoa(c.decInter)
	}
	if c.tcxoCalc >= 0 {
		p["tcxo_calc"] = strconv.Itoa(c.tcxoCalc)
	}
	if c.configFile != "" {
		p["config_file"] = c.configFile
	}
	if c.calibration != "" {
		p["calibration"] = c.calibration
	}
	return p
}

func (c cliConfig) addrList() []string {
	var out []string
	for _, a := range strings.Split(c.addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		LogLevel:      cfg.logLevel,
		LogFormat:     cfg.logFormat,
		Backend:       cfg.backend,
		Addrs:         cfg.addrList(),
		Browse:        cfg.browse,
		DialTimeout:   cfg.dialTimeout.String(),
		SSHHost:       cfg.sshHost,
		SSHUser:       cfg.sshUser,
		SSHKey:        cfg.sshKey,
		SampleRateMHz: cfg.sampleRateMHz,
		DecInter:      cfg.decInter,
		DeviceIndex:   cfg.deviceIndex,
		TCXOCalc:      cfg.tcxoCalc,
		ConfigPath:    cfg.configPath,
		ConfigFile:    cfg.configFile,
		Calibration:   cfg.calibration,
		MarkerPath:    cfg.markerPath,
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
		ToneOffset:    cfg.toneOffset,
		HistoryLimit:  cfg.historyLimit,
		WebAddr:       cfg.webAddr,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	cfg := defaultPersistentConfig()
	_, err := toml.DecodeFile(path, &cfg)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return persistentConfig{}, err
	}
	if saveErr := saveConfig(path, cfg); saveErr != nil {
		return persistentConfig{}, saveErr
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
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

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
