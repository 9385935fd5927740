package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rjboer/GoTRX/internal/dsp"
	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/telemetry"
	"github.com/rjboer/GoTRX/internal/trx"
)

// Config captures what the emulated baseband asks of the driver.
type Config struct {
	// MinSampleRate is the lowest rate the baseband accepts, in Hz.
	MinSampleRate int
	RxChannels    int
	TxChannels    int
	RxFreq        float64
	TxFreq        float64
	Bandwidth     float64
	RxGain        float64
	TxGain        float64
	// BlockSize is the number of samples requested per Read. Zero selects
	// one TX packet per channel.
	BlockSize int
	// TxAdvance is how many samples ahead of the RX timestamp loopback
	// blocks are scheduled.
	TxAdvance int
	// Blocks stops the run after that many reads. Zero runs until the
	// context ends.
	Blocks       int
	WarmupBlocks int
	Loopback     bool
	// SpectrumEvery publishes a spectrum snapshot every N blocks.
	SpectrumEvery int
}

// Result summarizes a run.
type Result struct {
	Blocks        int
	Samples       uint64
	ShortBlocks   int
	WriteErrors   int
	LastTimestamp uint64
	Rate          trx.NegotiatedRate
	Stats         trx.Stats
}

// SpectrumSink receives block spectra; telemetry.Hub implements it.
type SpectrumSink interface {
	UpdateSpectrumSnapshot(bins []float64, source string)
}

// Host drives a trx.Driver the way a baseband application does: init,
// negotiate the rate, start, then a read/analyse/write loop until done.
type Host struct {
	host     trx.Host
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config

	drv  *trx.Driver
	rate trx.NegotiatedRate
	rx   [][]complex64
	tx   [][]complex64
}

// NewHost builds an emulator around the driver host description.
func NewHost(host trx.Host, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Host {
	if logger == nil {
		logger = logging.Default()
	}
	if host.Logger == nil {
		host.Logger = logger
	}
	return &Host{
		host:     host,
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "host")),
		cfg:      cfg,
	}
}

// Driver exposes the running driver, nil before Init.
func (h *Host) Driver() *trx.Driver { return h.drv }

// Init opens the driver, negotiates the sample rate and configures streams.
func (h *Host) Init(ctx context.Context) error {
	if h.cfg.RxChannels < 1 {
		return fmt.Errorf("host needs at least one RX channel, got %d", h.cfg.RxChannels)
	}
	if h.cfg.SpectrumEvery == 0 {
		h.cfg.SpectrumEvery = 16
	}

	drv, err := trx.Init(ctx, h.host)
	if err != nil {
		return fmt.Errorf("init driver: %w", err)
	}
	h.drv = drv

	rate, err := drv.SampleRate(h.cfg.MinSampleRate)
	if err != nil {
		drv.End()
		return fmt.Errorf("negotiate sample rate: %w", err)
	}
	h.rate = rate
	h.logger.Info("sample rate negotiated",
		logging.F("rate", rate.Rate.String()),
		logging.F("index", rate.Index),
		logging.F("factor", rate.Factor))

	if err := drv.Start(h.startParams()); err != nil {
		drv.End()
		return fmt.Errorf("start streams: %w", err)
	}

	if h.cfg.BlockSize == 0 {
		h.cfg.BlockSize = drv.TxSamplesPerPacket()
	}
	if h.cfg.TxAdvance == 0 {
		h.cfg.TxAdvance = 4 * h.cfg.BlockSize
	}
	h.rx = makeBuffers(h.cfg.RxChannels, h.cfg.BlockSize)
	h.tx = makeBuffers(h.cfg.TxChannels, h.cfg.BlockSize)
	return nil
}

func (h *Host) startParams() trx.StartParams {
	p := trx.StartParams{
		RFPortCount:    1,
		RxChannelCount: h.cfg.RxChannels,
		TxChannelCount: h.cfg.TxChannels,
		SampleRate:     []trx.Fraction{h.rate.Rate},
		RxFreq:         []float64{h.cfg.RxFreq},
		TxFreq:         []float64{h.cfg.TxFreq},
		RxBandwidth:    []float64{h.cfg.Bandwidth},
		TxBandwidth:    []float64{h.cfg.Bandwidth},
	}
	for ch := 0; ch < h.cfg.RxChannels; ch++ {
		p.RxGain = append(p.RxGain, h.cfg.RxGain)
	}
	for ch := 0; ch < h.cfg.TxChannels; ch++ {
		p.TxGain = append(p.TxGain, h.cfg.TxGain)
	}
	return p
}

func makeBuffers(channels, n int) [][]complex64 {
	out := make([][]complex64, channels)
	for i := range out {
		out[i] = make([]complex64, n)
	}
	return out
}

// Run executes the streaming loop and always ends the driver before
// returning. A cancelled context is a normal stop.
func (h *Host) Run(ctx context.Context) (Result, error) {
	if h.drv == nil {
		return Result{}, errors.New("host not initialised")
	}
	defer h.drv.End()

	res := Result{Rate: h.rate}
	if err := h.warmup(ctx); err != nil {
		res.Stats = h.drv.Stats()
		return res, err
	}

	for h.cfg.Blocks == 0 || res.Blocks < h.cfg.Blocks {
		select {
		case <-ctx.Done():
			res.Stats = h.drv.Stats()
			return res, nil
		default:
		}

		block := h.step(res.Blocks)
		res.Blocks++
		res.Samples += uint64(block.Samples)
		if block.Short() {
			res.ShortBlocks++
		}
		if block.WriteError != "" {
			res.WriteErrors++
		}
		if block.Samples > 0 {
			res.LastTimestamp = block.Timestamp
		}
		if h.reporter != nil {
			h.reporter.Report(block)
		}
	}
	res.Stats = h.drv.Stats()
	h.logger.Info("run finished",
		logging.F("blocks", res.Blocks),
		logging.F("samples", res.Samples),
		logging.F("short_blocks", res.ShortBlocks),
		logging.F("write_errors", res.WriteErrors),
		logging.F("uptime", h.drv.Uptime()))
	return res, nil
}

// step reads one block, analyses channel 0 and schedules the loopback.
func (h *Host) step(index int) telemetry.BlockStats {
	ts, n := h.drv.Read(h.rx, h.cfg.BlockSize, 0)
	block := telemetry.BlockStats{
		Time:      time.Now(),
		Timestamp: ts,
		Requested: h.cfg.BlockSize,
		Samples:   n,
	}
	if n == 0 {
		return block
	}

	fs := float64(h.rate.Rate.Hz())
	_, spectrum := dsp.FFTAndDBFS(h.rx[0][:n])
	peak := dsp.PeakOf(spectrum)
	block.PeakBin = peak.Bin
	block.PeakHz = dsp.BinFrequency(peak.Bin, n, fs)
	block.PeakDBFS = finite(peak.DBFS)
	block.RMSDBFS = finite(dsp.RMSDBFS(h.rx[0][:n]))

	if sink, ok := h.reporter.(SpectrumSink); ok && index%h.cfg.SpectrumEvery == 0 {
		sink.UpdateSpectrumSnapshot(finiteAll(spectrum), "rx0")
	}

	if h.cfg.Loopback && len(h.tx) > 0 {
		for ch := range h.tx {
			copy(h.tx[ch], h.rx[ch%len(h.rx)][:n])
		}
		if err := h.drv.Write(ts+uint64(h.cfg.TxAdvance), h.tx, n, 0, 0); err != nil {
			block.WriteError = err.Error()
		}
	}
	return block
}

func (h *Host) warmup(ctx context.Context) error {
	for i := 0; i < h.cfg.WarmupBlocks; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		warmupStart := time.Now()
		_, n := h.drv.Read(h.rx, h.cfg.BlockSize, 0)
		h.logger.Debug("warmup block discarded",
			logging.F("index", i),
			logging.F("samples", n),
			logging.F("duration_ms", time.Since(warmupStart).Seconds()*1000))
	}
	return nil
}

// dbFloor stands in for -Inf so blocks stay JSON encodable.
const dbFloor = -200.0

func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return dbFloor
	}
	return v
}

func finiteAll(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = finite(v)
	}
	return out
}
