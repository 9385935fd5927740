package trx

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoTRX/internal/sdr"
)

func startedDriver(t *testing.T, rx, tx int) (*Driver, *sdr.MockDevice) {
	t.Helper()
	f := newFixture(t, MapParams{"calibration": "none"})
	d := f.init(t)
	require.NoError(t, d.Start(startParams(rx, tx)))
	return d, f.dev
}

func TestReadStartsStreamsExactlyOnce(t *testing.T) {
	d, dev := startedDriver(t, 2, 2)
	assert.Zero(t, dev.CountCalls("StartStream"))
	assert.False(t, d.Stats().Started)

	bufs := buffers(2, 64)
	for i := 0; i < 5; i++ {
		_, n := d.Read(bufs, 64, 0)
		require.Equal(t, 64, n)
	}
	assert.Equal(t, 4, dev.CountCalls("StartStream"))
	assert.True(t, d.Stats().Started)

	var starts []string
	for _, c := range dev.Calls() {
		if len(c) > 11 && c[:11] == "StartStream" {
			starts = append(starts, c)
		}
	}
	assert.Equal(t, []string{"StartStream RX 0", "StartStream RX 1", "StartStream TX 0", "StartStream TX 1"}, starts)
	for _, ep := range append(d.Endpoints(sdr.RX), d.Endpoints(sdr.TX)...) {
		assert.Equal(t, Started, ep.State())
	}
}

func TestConcurrentFirstReadsStartOnce(t *testing.T) {
	d, dev := startedDriver(t, 1, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Read(buffers(1, 32), 32, 0)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, dev.CountCalls("StartStream"))
	assert.Equal(t, uint64(8), d.Stats().Reads)
}

func TestReadTimestampsAdvance(t *testing.T) {
	d, _ := startedDriver(t, 2, 0)
	bufs := buffers(2, 128)

	ts, n := d.Read(bufs, 128, 0)
	assert.Equal(t, uint64(0), ts)
	assert.Equal(t, 128, n)

	ts, n = d.Read(bufs, 100, 0)
	assert.Equal(t, uint64(128), ts)
	assert.Equal(t, 100, n)

	ts, _ = d.Read(bufs, 128, 0)
	assert.Equal(t, uint64(228), ts)
	assert.NotZero(t, bufs[1][0])
}

func TestReadShortCountOnTimeout(t *testing.T) {
	d, dev := startedDriver(t, 1, 1)
	dev.SetRecvLimit(100)

	_, n := d.Read(buffers(1, 256), 256, 0)
	assert.Equal(t, 100, n)
	assert.Equal(t, uint64(1), d.Stats().ShortReads)
}

func TestReadErrorReturnsZeroCount(t *testing.T) {
	d, dev := startedDriver(t, 2, 0)
	dev.FailOn("RecvStream RX 1", errors.New("fifo overflow"))

	ts, n := d.Read(buffers(2, 64), 64, 0)
	assert.Zero(t, n)
	assert.Equal(t, uint64(0), ts)
}

func TestReadFirstChannelTimestampWins(t *testing.T) {
	d, _ := startedDriver(t, 2, 0)

	// Channel 1 gets a shorter buffer so its clock falls behind channel 0.
	bufs := [][]complex64{make([]complex64, 100), make([]complex64, 50)}
	ts, n := d.Read(bufs, 100, 0)
	assert.Equal(t, uint64(0), ts)
	assert.Equal(t, 50, n)
	assert.Zero(t, d.Stats().TimestampSkews)

	ts, _ = d.Read(buffers(2, 100), 100, 0)
	assert.Equal(t, uint64(100), ts, "channel 0 is authoritative")
	assert.Equal(t, uint64(1), d.Stats().TimestampSkews)
}

func TestReadBeforeStartIsInert(t *testing.T) {
	f := newFixture(t, nil)
	d := f.init(t)

	ts, n := d.Read(buffers(1, 16), 16, 0)
	assert.Zero(t, ts)
	assert.Zero(t, n)
	assert.Zero(t, f.dev.CountCalls("StartStream"))
	assert.False(t, d.Stats().Started)
}

func TestWriteNilIsNoop(t *testing.T) {
	d, dev := startedDriver(t, 1, 2)
	d.Read(buffers(1, 16), 16, 0)

	require.NoError(t, d.Write(1000, nil, 16, 0, 0))
	assert.Zero(t, dev.CountCalls("SendStream"))
	assert.Zero(t, d.Stats().Writes)
}

func TestWriteSubmitsEveryChannelAtTimestamp(t *testing.T) {
	d, dev := startedDriver(t, 1, 2)
	d.Read(buffers(1, 16), 16, 0)

	require.NoError(t, d.Write(4096, buffers(2, 510), 510, 0, 0))
	sent := dev.Sent()
	require.Len(t, sent, 2)
	for i, blk := range sent {
		assert.Equal(t, i, blk.Channel)
		assert.Equal(t, uint64(4096), blk.Timestamp)
		assert.Equal(t, 510, blk.Count)
		assert.True(t, blk.Wait)
		assert.False(t, blk.Flush)
	}
}

func TestWriteJoinsChannelFailures(t *testing.T) {
	d, dev := startedDriver(t, 1, 3)
	d.Read(buffers(1, 16), 16, 0)
	dev.FailOn("SendStream TX 1", errors.New("tx fifo full"))

	err := d.Write(64, buffers(3, 32), 32, 0, 0)
	require.ErrorIs(t, err, ErrHardwareCall)
	assert.Contains(t, err.Error(), "tx channel 1")

	sent := dev.Sent()
	require.Len(t, sent, 2, "other channels still transmit")
	assert.Equal(t, 0, sent[0].Channel)
	assert.Equal(t, 2, sent[1].Channel)
	assert.Equal(t, uint64(1), d.Stats().WriteFailures)
}

func TestWriteShortBuffer(t *testing.T) {
	d, dev := startedDriver(t, 1, 2)
	d.Read(buffers(1, 16), 16, 0)

	err := d.Write(0, [][]complex64{make([]complex64, 32)}, 32, 0, 0)
	require.Error(t, err)
	assert.Len(t, dev.Sent(), 1)
}

func TestWriteBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	d := f.init(t)
	require.ErrorIs(t, d.Write(0, buffers(1, 8), 8, 0, 0), ErrNotConfigured)
}

func TestEndWithoutStartReleasesEverything(t *testing.T) {
	f := newFixture(t, MapParams{"calibration": "none"})
	d := f.init(t)
	require.NoError(t, d.Start(startParams(2, 1)))
	before := len(f.dev.Calls())

	d.End()
	d.End()

	assert.Equal(t, []string{
		"StopStream RX 0",
		"DestroyStream RX 0",
		"StopStream RX 1",
		"DestroyStream RX 1",
		"StopStream TX 0",
		"DestroyStream TX 0",
		"Close",
	}, f.dev.Calls()[before:])
	for _, ep := range append(d.Endpoints(sdr.RX), d.Endpoints(sdr.TX)...) {
		assert.Equal(t, Destroyed, ep.State())
	}
	assert.True(t, f.dev.Closed())

	_, n := d.Read(buffers(2, 8), 8, 0)
	assert.Zero(t, n)
}

func TestEndAfterStreaming(t *testing.T) {
	d, dev := startedDriver(t, 1, 1)
	d.Read(buffers(1, 16), 16, 0)
	d.End()

	assert.Equal(t, 1, dev.CountCalls("StopStream RX 0"))
	assert.Equal(t, 1, dev.CountCalls("DestroyStream TX 0"))
	assert.Equal(t, 1, dev.CountCalls("Close"))
}

func TestEndWithoutStartCall(t *testing.T) {
	f := newFixture(t, nil)
	d := f.init(t)
	d.End()
	assert.Equal(t, 1, f.dev.CountCalls("Close"))
	assert.Zero(t, f.dev.CountCalls("StopStream"))
}

func TestDriverIsTransceiver(t *testing.T) {
	f := newFixture(t, nil)
	var tr Transceiver = f.init(t)
	assert.Equal(t, SamplesPerPacket, tr.TxSamplesPerPacket())
}
