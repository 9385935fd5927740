package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rjboer/GoTRX/internal/logging"
)

// Config is the runtime-tunable part of the hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
	// ReportEvery keeps one block in N. Streaming runs at thousands of
	// blocks per second and nobody wants all of them in a browser.
	ReportEvery int `json:"reportEvery"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
	maxReportEvery  = 100_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500, ReportEvery: 1}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.ReportEvery == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = base.ReportEvery
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.ReportEvery < 1 || cfg.ReportEvery > maxReportEvery {
		return Config{}, errors.New("reportEvery must be a positive block count")
	}
	return cfg, nil
}

// BlockStats summarizes one received block.
type BlockStats struct {
	Time      time.Time `json:"time"`
	Timestamp uint64    `json:"timestamp"`
	Requested int       `json:"requested"`
	Samples   int       `json:"samples"`
	PeakBin   int       `json:"peakBin"`
	PeakHz    float64   `json:"peakHz"`
	PeakDBFS  float64   `json:"peakDbfs"`
	RMSDBFS   float64   `json:"rmsDbfs"`
	// WriteError is the loopback transmit failure for this block, if any.
	WriteError string `json:"writeError,omitempty"`
}

// Short reports whether the block came back with fewer samples than asked.
func (b BlockStats) Short() bool { return b.Samples < b.Requested }

// SpectrumSnapshot is the most recent block spectrum in dBFS.
type SpectrumSnapshot struct {
	Bins      []float64 `json:"bins"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProcessInfo describes the reporting process.
type ProcessInfo struct {
	NumGoroutine int           `json:"numGoroutine"`
	Uptime       time.Duration `json:"uptime"`
}

// HealthStatus is served on /api/health.
type HealthStatus struct {
	Status    string      `json:"status"`
	Blocks    uint64      `json:"blocks"`
	LastBlock time.Time   `json:"lastBlock"`
	Process   ProcessInfo `json:"process"`
}

// staleAfter is how long without a block before health degrades.
const staleAfter = 2 * time.Second

// Hub collects history and fans block stats out to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []BlockStats
	subscribers map[chan BlockStats]struct{}
	config      Config
	blocks      uint64
	lastBlock   time.Time
	spectrum    SpectrumSnapshot
	stats       func() any
	started     time.Time
	logger      logging.Logger
}

// NewHub builds a hub keeping at most historyLimit blocks.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	if valid, err := validateConfig(cfg, defaultConfig()); err == nil {
		cfg = valid
	} else {
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan BlockStats]struct{}),
		config:      cfg,
		started:     time.Now(),
		logger:      logger.With(logging.F("subsystem", "telemetry")),
	}
}

// Report records a block. Only every ReportEvery-th block reaches history
// and subscribers; health sees all of them.
func (h *Hub) Report(b BlockStats) {
	if b.Time.IsZero() {
		b.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocks++
	h.lastBlock = b.Time
	if (h.blocks-1)%uint64(h.config.ReportEvery) != 0 {
		return
	}
	h.history = append(h.history, b)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- b:
		default:
		}
	}
}

// History returns a copy of stored blocks.
func (h *Hub) History() []BlockStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]BlockStats, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the current configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan BlockStats, func()) {
	ch := make(chan BlockStats, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// UpdateSpectrumSnapshot replaces the spectrum served on /api/spectrum.
func (h *Hub) UpdateSpectrumSnapshot(bins []float64, source string) {
	cp := make([]float64, len(bins))
	copy(cp, bins)
	h.mu.Lock()
	h.spectrum = SpectrumSnapshot{Bins: cp, Source: source, UpdatedAt: time.Now()}
	h.mu.Unlock()
}

// SetStatsSource installs the function /api/stats renders, typically the
// driver's counter snapshot.
func (h *Hub) SetStatsSource(fn func() any) {
	h.mu.Lock()
	h.stats = fn
	h.mu.Unlock()
}

func (h *Hub) health(now time.Time) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := "ok"
	if h.blocks == 0 || now.Sub(h.lastBlock) > staleAfter {
		status = "degraded"
	}
	return HealthStatus{
		Status:    status,
		Blocks:    h.blocks,
		LastBlock: h.lastBlock,
		Process: ProcessInfo{
			NumGoroutine: runtime.NumGoroutine(),
			Uptime:       now.Sub(h.started),
		},
	}
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards the block to each configured reporter.
func (m MultiReporter) Report(b BlockStats) {
	for _, r := range m {
		if r != nil {
			r.Report(b)
		}
	}
}

// UpdateSpectrumSnapshot forwards the spectrum to members that keep one.
func (m MultiReporter) UpdateSpectrumSnapshot(bins []float64, source string) {
	for _, r := range m {
		if sink, ok := r.(interface {
			UpdateSpectrumSnapshot([]float64, string)
		}); ok {
			sink.UpdateSpectrumSnapshot(bins, source)
		}
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.History())
	}
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.ConfigSnapshot())
	}
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	cfg, err := validateConfig(incoming, h.config)
	if err == nil {
		h.applyConfig(cfg)
	}
	h.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("telemetry config updated", logging.F("history_limit", cfg.HistoryLimit), logging.F("report_every", cfg.ReportEvery))
	writeJSON(w, cfg)
}

func (h *Hub) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	h.mu.RLock()
	snap := h.spectrum
	h.mu.RUnlock()
	writeJSON(w, snap)
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	h.mu.RLock()
	fn := h.stats
	h.mu.RUnlock()
	if fn == nil {
		http.Error(w, "no stats source", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, fn())
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.health(time.Now()))
	}
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// replay history so a new client has something to draw
	for _, b := range h.History() {
		writeEvent(w, b)
	}
	flusher.Flush()

	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, b)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, b BlockStats) {
	payload, _ := json.Marshal(b)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
