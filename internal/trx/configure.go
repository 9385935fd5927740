package trx

import (
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// minTxLPF is the floor of the TX analog low-pass filter.
const minTxLPF = 5e6

// StartParams is the host's streaming request. Per-port slices are indexed
// by RF port, per-channel slices by channel.
type StartParams struct {
	RFPortCount    int
	RxChannelCount int
	TxChannelCount int
	SampleRate     []Fraction
	RxGain         []float64
	TxGain         []float64
	RxFreq         []float64
	TxFreq         []float64
	RxBandwidth    []float64
	TxBandwidth    []float64
}

func (p StartParams) validate() error {
	if p.RFPortCount != 1 {
		return fmt.Errorf("%w: %d ports requested", ErrUnsupportedPortCount, p.RFPortCount)
	}
	if p.RxChannelCount < 0 || p.RxChannelCount > sdr.MaxChannels {
		return fmt.Errorf("%w: rx=%d", ErrChannelCount, p.RxChannelCount)
	}
	if p.TxChannelCount < 0 || p.TxChannelCount > sdr.MaxChannels {
		return fmt.Errorf("%w: tx=%d", ErrChannelCount, p.TxChannelCount)
	}
	if len(p.SampleRate) < 1 || p.SampleRate[0].Hz() <= 0 {
		return fmt.Errorf("%w: port 0 sample rate missing", ErrInvalidParam)
	}
	if len(p.RxGain) < p.RxChannelCount || len(p.TxGain) < p.TxChannelCount {
		return fmt.Errorf("%w: one gain per channel required", ErrInvalidParam)
	}
	if len(p.RxFreq) < 1 || len(p.TxFreq) < 1 || len(p.RxBandwidth) < 1 || len(p.TxBandwidth) < 1 {
		return fmt.Errorf("%w: port 0 frequency and bandwidth required", ErrInvalidParam)
	}
	return nil
}

// roundGain rounds a gain request to the nearest whole dB.
func roundGain(db float64) int { return int(math.Round(db)) }

// Start configures channels, rate, streams, LOs and calibration in that
// order. Any hardware failure before calibration aborts and destroys the
// streams set up so far, so Start may be retried. Calibration failures only
// degrade the result. Start after End returns ErrClosed.
func (d *Driver) Start(p StartParams) error {
	if err := p.validate(); err != nil {
		d.log.Error("invalid start request", logging.Err(err))
		return err
	}
	if d.ended.Load() {
		return ErrClosed
	}
	if d.configured.Load() {
		return ErrAlreadyConfigured
	}

	d.sampleRate = int(p.SampleRate[0].Hz())
	d.rxCount = p.RxChannelCount
	d.txCount = p.TxChannelCount

	if err := d.configure(p); err != nil {
		d.log.Error("stream configuration failed", logging.Err(err))
		d.releaseEndpoints()
		return err
	}

	d.configured.Store(true)
	if err := touchMarker(d.markerPath); err != nil {
		d.log.Warn("streaming marker not created", logging.F("path", d.markerPath), logging.Err(err))
	}
	d.log.Info("running")
	return nil
}

func (d *Driver) configure(p StartParams) error {
	if !d.loadedFromFile {
		if err := d.enableChannels(p); err != nil {
			return err
		}
	}

	d.log.Info("channels", logging.F("rx", d.rxCount), logging.F("tx", d.txCount))
	d.log.Info("sample rate",
		logging.F("mhz", fmt.Sprintf("%.3f", float64(d.sampleRate)/1e6)),
		logging.F("dec_inter", d.decInter))
	if err := d.dev.SetSampleRate(float64(d.sampleRate), d.decInter); err != nil {
		return d.hwErr("set sample rate", err)
	}

	for ch := 0; ch < d.rxCount; ch++ {
		d.log.Debug("setup stream", logging.F("dir", sdr.RX), logging.F("channel", ch))
		d.rx[ch] = newEndpoint(sdr.RX, ch)
		if err := d.rx[ch].configure(d.dev); err != nil {
			return d.hwErr(fmt.Sprintf("setup RX stream %d", ch), err)
		}
	}
	for ch := 0; ch < d.txCount; ch++ {
		d.log.Debug("setup stream", logging.F("dir", sdr.TX), logging.F("channel", ch))
		d.tx[ch] = newEndpoint(sdr.TX, ch)
		if err := d.tx[ch].configure(d.dev); err != nil {
			return d.hwErr(fmt.Sprintf("setup TX stream %d", ch), err)
		}
	}

	if err := d.setLOs(p); err != nil {
		return err
	}

	if d.calibrate {
		d.calibrateChannels(p)
	}
	return nil
}

func (d *Driver) enableChannels(p StartParams) error {
	for ch := 0; ch < sdr.MaxChannels; ch++ {
		if ch < d.rxCount {
			if err := d.dev.EnableChannel(sdr.RX, ch, true); err != nil {
				return d.hwErr(fmt.Sprintf("enable RX channel %d", ch), err)
			}
		}
		if ch < d.txCount {
			if err := d.dev.EnableChannel(sdr.TX, ch, true); err != nil {
				return d.hwErr(fmt.Sprintf("enable TX channel %d", ch), err)
			}
		}
		if ch < d.rxCount {
			if err := d.dev.SetGaindB(sdr.RX, ch, roundGain(p.RxGain[ch])); err != nil {
				return d.hwErr(fmt.Sprintf("set RX gain %d", ch), err)
			}
		}
		if ch < d.txCount {
			if err := d.dev.SetGaindB(sdr.TX, ch, roundGain(p.TxGain[ch])); err != nil {
				return d.hwErr(fmt.Sprintf("set TX gain %d", ch), err)
			}
		}
		if ch < d.rxCount || ch < d.txCount {
			fields := []logging.Field{logging.F("channel", ch+1)}
			if ch < d.rxCount {
				fields = append(fields, logging.F("rx_db", roundGain(p.RxGain[ch])))
			}
			if ch < d.txCount {
				fields = append(fields, logging.F("tx_db", roundGain(p.TxGain[ch])))
			}
			d.log.Info("set gains", fields...)
		}
	}
	return nil
}

// setLOs programs LO group 0 for each direction, and group 2 when a third
// or fourth channel of that direction is active. Channels share LOs in pairs.
func (d *Driver) setLOs(p StartParams) error {
	if err := d.dev.SetLOFrequency(sdr.RX, 0, p.RxFreq[0]); err != nil {
		return d.hwErr("set RX frequency", err)
	}
	if err := d.dev.SetLOFrequency(sdr.TX, 0, p.TxFreq[0]); err != nil {
		return d.hwErr("set TX frequency", err)
	}
	if d.rxCount > 2 {
		if err := d.dev.SetLOFrequency(sdr.RX, 2, p.RxFreq[0]); err != nil {
			return d.hwErr("set RX frequency", err)
		}
	}
	if d.txCount > 2 {
		if err := d.dev.SetLOFrequency(sdr.TX, 2, p.TxFreq[0]); err != nil {
			return d.hwErr("set TX frequency", err)
		}
	}
	return nil
}

// calibrateChannels never fails; each failed step is logged and counted.
func (d *Driver) calibrateChannels(p StartParams) {
	txBW := p.TxBandwidth[0]
	for ch := 0; ch < d.txCount; ch++ {
		d.log.Info("calibrating", logging.F("dir", sdr.TX), logging.F("channel", ch+1))
		if err := d.dev.Calibrate(sdr.TX, ch, txBW); err != nil {
			d.degraded("calibrate TX", ch, err)
		}
		if err := d.dev.SetLPFBW(sdr.TX, ch, math.Max(txBW, minTxLPF)); err != nil {
			d.degraded("set TX LPF", ch, err)
		}
		// Calibration can leave the PA gain somewhere else.
		if err := d.dev.SetGaindB(sdr.TX, ch, roundGain(p.TxGain[ch])); err != nil {
			d.degraded("restore TX gain", ch, err)
		}
	}

	rxBW := p.RxBandwidth[0]
	for ch := 0; ch < d.rxCount; ch++ {
		d.log.Info("calibrating", logging.F("dir", sdr.RX), logging.F("channel", ch+1))
		if err := d.dev.Calibrate(sdr.RX, ch, rxBW); err != nil {
			d.degraded("calibrate RX", ch, err)
		}
		if err := d.dev.SetLPFBW(sdr.RX, ch, rxBW); err != nil {
			d.degraded("set RX LPF", ch, err)
		}
	}
}

func (d *Driver) degraded(op string, ch int, err error) {
	d.calibrationErrs.Add(1)
	d.log.Warn("calibration step failed",
		logging.F("channel", ch),
		logging.Err(errors.Join(ErrCalibrationDegraded, d.hwErr(op, err))))
}
