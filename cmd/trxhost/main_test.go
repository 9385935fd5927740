package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]string{}, noEnv, defaultPersistentConfig())
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.backend != "mock" || cfg.minSampleRate != 23_040_000 || cfg.rxChannels != 1 || !cfg.loopback {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.dialTimeout != 5*time.Second {
		t.Fatalf("unexpected dial timeout %v", cfg.dialTimeout)
	}
}

func TestParseConfigEnvOverrides(t *testing.T) {
	env := map[string]string{
		"TRX_BACKEND":     "trxd",
		"TRX_TRXD_ADDRS":  "10.0.0.5:30432, 10.0.0.6:30432",
		"TRX_RX_CHANNELS": "2",
		"TRX_MDNS":        "true",
		"TRX_TCXO_CALC":   "128",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg, err := parseConfig([]string{"--tx-gain", "30", "--calibration", "none"}, lookup, defaultPersistentConfig())
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.backend != "trxd" || cfg.rxChannels != 2 || !cfg.browse || cfg.txGain != 30 {
		t.Fatalf("overrides not applied: %#v", cfg)
	}
	if got := cfg.addrList(); len(got) != 2 || got[1] != "10.0.0.6:30432" {
		t.Fatalf("unexpected address list %v", got)
	}

	p := cfg.params()
	if p["tcxo_calc"] != "128" || p["calibration"] != "none" || p["lms7002_index"] != "0" {
		t.Fatalf("unexpected driver params %v", p)
	}
	if _, ok := p["sample_rate"]; ok {
		t.Fatal("sample_rate must be omitted when unset")
	}
}

func TestParseConfigRejectsUnknownBackend(t *testing.T) {
	if _, err := parseConfig([]string{"-backend", "pluto"}, noEnv, defaultPersistentConfig()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSelectBackend(t *testing.T) {
	if _, err := selectBackend(cliConfig{backend: "trxd"}, nil); err == nil {
		t.Fatal("expected error for trxd backend without addresses")
	}
	enum, err := selectBackend(cliConfig{backend: "mock"}, nil)
	if err != nil || enum == nil {
		t.Fatalf("unexpected mock backend result: %v", err)
	}
	list, err := enum.List(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one mock device, got %v (%v)", list, err)
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trxhost.toml")
	cfg, err := loadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cfg.Backend != "mock" {
		t.Fatalf("unexpected default backend %q", cfg.Backend)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg.RxChannels = 3
	cfg.Addrs = []string{"lime.local:30432"}
	if err := saveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := loadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.RxChannels != 3 || len(loaded.Addrs) != 1 || loaded.TCXOCalc != -1 {
		t.Fatalf("unexpected reloaded config %+v", loaded)
	}
}

func TestRunStreamsMockBlocks(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{
		"TRX_CONFIG":      filepath.Join(dir, "trxhost.toml"),
		"TRX_MARKER_PATH": filepath.Join(dir, "LMSStreamingActive"),
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	var out bytes.Buffer
	args := []string{"-blocks", "4", "-warmup-blocks", "0", "-web-addr", "", "-calibration", "none"}
	if err := run(context.Background(), args, lookup, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	logs := out.String()
	for _, want := range []string{"[INFO] running", "[INFO] START", "[INFO] summary", "blocks=4"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("missing %q in output:\n%s", want, logs)
		}
	}
	if _, err := os.Stat(env["TRX_MARKER_PATH"]); err != nil {
		t.Fatalf("streaming marker not created: %v", err)
	}
}
