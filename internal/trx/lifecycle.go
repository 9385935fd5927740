package trx

import (
	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// startStreams moves every configured endpoint to Started, RX first. It runs
// at most once per Driver no matter how many readers race into it. Failures
// are logged; recovering is up to the host.
func (d *Driver) startStreams() {
	d.startOnce.Do(func() {
		for _, ep := range d.Endpoints(sdr.RX) {
			if err := ep.start(); err != nil {
				d.log.Error("start stream failed", logging.F("endpoint", ep.String()), logging.Err(err))
			}
		}
		for _, ep := range d.Endpoints(sdr.TX) {
			if err := ep.start(); err != nil {
				d.log.Error("start stream failed", logging.F("endpoint", ep.String()), logging.Err(err))
			}
		}
		d.started.Store(true)
		d.log.Info("START", logging.F("uptime", d.Uptime()))
	})
}

// End stops and destroys all endpoints (RX, then TX) and closes the device.
// It is safe without a prior Start and only acts on the first call.
func (d *Driver) End() {
	d.endOnce.Do(func() {
		d.ended.Store(true)
		for _, ep := range d.Endpoints(sdr.RX) {
			d.teardown(ep)
		}
		for _, ep := range d.Endpoints(sdr.TX) {
			d.teardown(ep)
		}
		if err := closeDevice(d.dev, d.info); err != nil {
			d.log.Warn("close device", logging.Err(err))
		}
		d.configured.Store(false)
		d.log.Info("driver closed", logging.F("uptime", d.Uptime()))
	})
}

func (d *Driver) teardown(ep *StreamEndpoint) {
	if ep.State() == Unconfigured || ep.State() == Destroyed {
		return
	}
	if err := ep.stop(); err != nil {
		d.log.Warn("stop stream", logging.F("endpoint", ep.String()), logging.Err(err))
	}
	if err := ep.destroy(d.dev); err != nil {
		d.log.Warn("destroy stream", logging.F("endpoint", ep.String()), logging.Err(err))
	}
}

// releaseEndpoints destroys whatever a failed Start managed to set up and
// forgets the endpoints.
func (d *Driver) releaseEndpoints() {
	for ch, ep := range d.rx {
		if ep != nil {
			d.teardown(ep)
			d.rx[ch] = nil
		}
	}
	for ch, ep := range d.tx {
		if ep != nil {
			d.teardown(ep)
			d.tx[ch] = nil
		}
	}
}
