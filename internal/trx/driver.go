package trx

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// APIVersion is the host interface version this driver implements.
const APIVersion = 1

// SamplesPerPacket is the number of complex samples in one hardware packet.
const SamplesPerPacket = 1020

// Transceiver is the set of entry points a host drives after Init.
type Transceiver interface {
	Start(p StartParams) error
	Write(ts uint64, samples [][]complex64, count, flags, port int) error
	Read(samples [][]complex64, count, port int) (uint64, int)
	SampleRate(minimum int) (NegotiatedRate, error)
	TxSamplesPerPacket() int
	End()
}

var _ Transceiver = (*Driver)(nil)

// Driver is the state of one opened transceiver. The host only ever holds
// it through the Transceiver interface.
type Driver struct {
	log        logging.Logger
	dev        sdr.Device
	info       sdr.Info
	markerPath string
	t0         time.Time

	rx [sdr.MaxChannels]*StreamEndpoint
	tx [sdr.MaxChannels]*StreamEndpoint

	sampleRate     int
	decInter       int
	tcxo           int
	rxCount        int
	txCount        int
	calibrate      bool
	loadedFromFile bool

	configured atomic.Bool
	started    atomic.Bool
	ended      atomic.Bool
	startOnce  sync.Once
	endOnce    sync.Once

	reads           atomic.Uint64
	shortReads      atomic.Uint64
	writes          atomic.Uint64
	writeFailures   atomic.Uint64
	timestampSkews  atomic.Uint64
	calibrationErrs atomic.Uint64
}

// Stats is a snapshot of the driver's I/O counters.
type Stats struct {
	Reads               uint64
	ShortReads          uint64
	Writes              uint64
	WriteFailures       uint64
	TimestampSkews      uint64
	CalibrationFailures uint64
	Started             bool
}

// Init opens the device selected by the host parameters and brings it to
// the point where Start can configure streams. Any error leaves nothing
// open and the host must not use the context further.
func Init(ctx context.Context, host Host) (*Driver, error) {
	log := host.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.With(logging.F("subsystem", "trx"))

	if host.APIVersion != APIVersion {
		err := fmt.Errorf("%w: host ABI version=%d, driver ABI version=%d", ErrAbiMismatch, host.APIVersion, APIVersion)
		log.Error("ABI compatibility mismatch", logging.Err(err))
		return nil, err
	}

	params := host.Params
	if params == nil {
		params = MapParams{}
	}

	d := &Driver{
		log:        log,
		markerPath: host.MarkerPath,
		t0:         time.Now(),
		tcxo:       -1,
		calibrate:  true,
	}
	if d.markerPath == "" {
		d.markerPath = DefaultMarkerPath
	}

	if v, ok := params.Float("sample_rate"); ok {
		d.sampleRate = int(math.Round(v * 1e6))
	}
	if v, ok := params.Float("dec_inter"); ok {
		d.decInter = int(v)
	}
	index := 0
	if v, ok := params.Float("lms7002_index"); ok {
		index = int(v)
	}

	dev, info, err := openDevice(ctx, host.Devices, index)
	if err != nil {
		log.Error("no LMS7002 board available", logging.F("index", index), logging.Err(err))
		return nil, err
	}
	d.dev = dev
	d.info = info
	d.log = log.With(logging.F("device", info.String()))

	if err := d.setup(params, host.Path); err != nil {
		d.log.Error("driver init failed", logging.Err(err))
		if cerr := closeDevice(d.dev, d.info); cerr != nil {
			d.log.Warn("close after failed init", logging.Err(cerr))
		}
		return nil, err
	}
	return d, nil
}

// setup runs the one-shot device configuration: VCTCXO trim, register image
// or default init, calibration cache and calibration policy.
func (d *Driver) setup(params ParamStore, basePath string) error {
	if v, ok := params.Float("tcxo_calc"); ok {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: tcxo_calc %v outside 0..255", ErrInvalidParam, v)
		}
		d.tcxo = int(v)
		if err := d.dev.VCTCXOWrite(uint16(d.tcxo)); err != nil {
			d.log.Warn("VCTCXO DAC write failed", logging.F("value", d.tcxo), logging.Err(d.hwErr("VCTCXO write", err)))
		} else {
			d.log.Info("VCTCXO DAC written", logging.F("value", d.tcxo))
		}
	}

	if name, ok := params.String("config_file"); ok && name != "" {
		path := filepath.Join(basePath, name)
		d.log.Info("loading register image", logging.F("config_file", path))
		if err := d.dev.LoadConfig(path); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfigLoadFailed, path, d.hwErr("load config", err))
		}
		d.loadedFromFile = true
	} else {
		if err := d.dev.Init(); err != nil {
			return d.hwErr("LMS init", err)
		}
	}

	// Every calibration runs fresh.
	if err := d.dev.EnableCalibCache(false); err != nil {
		d.log.Warn("disable calibration cache failed", logging.Err(d.hwErr("calibration cache", err)))
	}

	if mode, ok := params.String("calibration"); ok {
		switch {
		case strings.EqualFold(mode, "none"):
			d.log.Info("skip calibration")
			d.calibrate = false
		case strings.EqualFold(mode, "force"):
			d.log.Info("force calibration")
		default:
			d.log.Warn("unknown calibration mode, calibrating", logging.F("calibration", mode))
		}
	}
	return nil
}

// hwErr wraps a failed device call with the device's last error text.
func (d *Driver) hwErr(op string, err error) error {
	detail := d.dev.LastError()
	if detail == "" && err != nil {
		detail = err.Error()
	}
	return &HardwareError{Op: op, Detail: detail, Err: err}
}

// SampleRate negotiates the rate the host should run at given its minimum.
func (d *Driver) SampleRate(minimum int) (NegotiatedRate, error) {
	rate, err := Negotiate(d.sampleRate, minimum)
	if err != nil {
		d.log.Warn("sample rate negotiation failed", logging.F("minimum_hz", minimum), logging.Err(err))
		return NegotiatedRate{}, err
	}
	rate.Factor = d.decInter
	return rate, nil
}

// TxSamplesPerPacket splits the hardware packet evenly across the active TX
// channels. Callers are expected to use a channel count that divides 1020;
// before Start, or without TX channels, the whole packet is reported.
func (d *Driver) TxSamplesPerPacket() int {
	if d.txCount <= 0 {
		return SamplesPerPacket
	}
	return SamplesPerPacket / d.txCount
}

// Uptime is the time since the device was opened.
func (d *Driver) Uptime() time.Duration { return time.Since(d.t0) }

// Info identifies the opened device.
func (d *Driver) Info() sdr.Info { return d.info }

// Calibrating reports whether Start will run calibration.
func (d *Driver) Calibrating() bool { return d.calibrate }

// LoadedFromFile reports whether a register image replaced the default init.
func (d *Driver) LoadedFromFile() bool { return d.loadedFromFile }

// ChannelCounts returns the RX and TX channel counts fixed by Start.
func (d *Driver) ChannelCounts() (rx, tx int) { return d.rxCount, d.txCount }

// Endpoints returns the active endpoints for one direction.
func (d *Driver) Endpoints(dir sdr.Direction) []*StreamEndpoint {
	set, n := d.rx[:], d.rxCount
	if dir == sdr.TX {
		set, n = d.tx[:], d.txCount
	}
	out := make([]*StreamEndpoint, 0, n)
	for _, ep := range set[:n] {
		if ep != nil {
			out = append(out, ep)
		}
	}
	return out
}

// Stats returns a snapshot of the I/O counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Reads:               d.reads.Load(),
		ShortReads:          d.shortReads.Load(),
		Writes:              d.writes.Load(),
		WriteFailures:       d.writeFailures.Load(),
		TimestampSkews:      d.timestampSkews.Load(),
		CalibrationFailures: d.calibrationErrs.Load(),
		Started:             d.started.Load(),
	}
}
