package trx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

type fixture struct {
	dev    *sdr.MockDevice
	enum   *sdr.MockEnumerator
	host   Host
	marker string
}

func newFixture(t *testing.T, params MapParams) *fixture {
	t.Helper()
	dev := sdr.NewMock(t.Name())
	enum := sdr.NewMockEnumerator(dev)
	marker := filepath.Join(t.TempDir(), "LMSStreamingActive")
	return &fixture{
		dev:    dev,
		enum:   enum,
		marker: marker,
		host: Host{
			APIVersion: APIVersion,
			Path:       "/opt/enb/config",
			Params:     params,
			Devices:    enum,
			Logger:     logging.Discard(),
			MarkerPath: marker,
		},
	}
}

func (f *fixture) init(t *testing.T) *Driver {
	t.Helper()
	d, err := Init(context.Background(), f.host)
	require.NoError(t, err)
	t.Cleanup(d.End)
	return d
}

func startParams(rx, tx int) StartParams {
	p := StartParams{
		RFPortCount:    1,
		RxChannelCount: rx,
		TxChannelCount: tx,
		SampleRate:     []Fraction{{Num: 30_720_000, Den: 1}},
		RxFreq:         []float64{2_680e6},
		TxFreq:         []float64{2_560e6},
		RxBandwidth:    []float64{20e6},
		TxBandwidth:    []float64{20e6},
	}
	for ch := 0; ch < rx; ch++ {
		p.RxGain = append(p.RxGain, 40)
	}
	for ch := 0; ch < tx; ch++ {
		p.TxGain = append(p.TxGain, 60)
	}
	return p
}

func buffers(channels, n int) [][]complex64 {
	out := make([][]complex64, channels)
	for i := range out {
		out[i] = make([]complex64, n)
	}
	return out
}
