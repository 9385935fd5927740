package trx

import (
	"errors"
	"fmt"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// Write submits count samples per TX channel, to be emitted at hardware tick
// ts. A nil samples slice means nothing to transmit this cycle and returns
// at once. Every channel is attempted; their failures are joined. flags and
// port are accepted for interface parity and not interpreted.
func (d *Driver) Write(ts uint64, samples [][]complex64, count, flags, port int) error {
	if samples == nil {
		return nil
	}
	if !d.configured.Load() {
		return ErrNotConfigured
	}
	d.writes.Add(1)

	meta := sdr.Meta{Timestamp: ts, WaitForTimestamp: true, FlushPartialPacket: false}
	var errs []error
	for _, ep := range d.Endpoints(sdr.TX) {
		ch := ep.Channel
		if ch >= len(samples) || len(samples[ch]) < count {
			errs = append(errs, fmt.Errorf("tx channel %d: buffer shorter than %d samples", ch, count))
			continue
		}
		n, err := ep.stream.Send(samples[ch][:count], meta, IOTimeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("tx channel %d: %w", ch, d.hwErr("send stream", err)))
		case n < count:
			errs = append(errs, fmt.Errorf("tx channel %d: %w: %d of %d", ch, ErrShortWrite, n, count))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	d.writeFailures.Add(1)
	err := errors.Join(errs...)
	d.log.Debug("write incomplete", logging.F("timestamp", ts), logging.Err(err))
	return err
}

// Read fills up to count samples per RX channel and returns the timestamp of
// the first sample together with the number of samples valid in every
// channel. The first call starts all streams.
//
// The timestamp comes from the first channel that delivered data; channels
// are sampled on the same tick by the hardware, so any disagreement is
// logged and counted rather than corrected. Timeouts and errors show up as
// a reduced (possibly zero) count, never as an error.
func (d *Driver) Read(samples [][]complex64, count, port int) (uint64, int) {
	if !d.configured.Load() || count <= 0 {
		return 0, 0
	}
	d.startStreams()
	d.reads.Add(1)

	var (
		ts     uint64
		haveTS bool
		n      = count
	)
	eps := d.Endpoints(sdr.RX)
	if len(eps) == 0 {
		return 0, 0
	}
	for _, ep := range eps {
		ch := ep.Channel
		if ch >= len(samples) {
			n = 0
			continue
		}
		buf := samples[ch]
		if len(buf) > count {
			buf = buf[:count]
		}
		got, meta, err := ep.stream.Recv(buf, IOTimeout)
		if err != nil {
			d.log.Debug("recv failed", logging.F("channel", ch), logging.Err(d.hwErr("recv stream", err)))
			got = 0
		}
		if got < n {
			n = got
		}
		if got == 0 {
			continue
		}
		if !haveTS {
			ts, haveTS = meta.Timestamp, true
		} else if meta.Timestamp != ts {
			d.timestampSkews.Add(1)
			d.log.Warn("rx channels disagree on timestamp",
				logging.F("channel", ch),
				logging.F("timestamp", meta.Timestamp),
				logging.F("reference", ts))
		}
	}
	if n < count {
		d.shortReads.Add(1)
	}
	return ts, n
}
