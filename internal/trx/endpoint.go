package trx

import (
	"fmt"
	"time"

	"github.com/rjboer/GoTRX/internal/sdr"
)

const (
	// FIFOSize is the per-stream buffer depth in samples.
	FIFOSize = 128 * 1024
	// ThroughputVsLatency biases the hardware packet sizing; 0 favours
	// latency, 1 throughput.
	ThroughputVsLatency = 0.3
	// IOTimeout bounds every Read and Write wait on buffer space.
	IOTimeout = 30 * time.Millisecond
)

// State is the lifecycle position of a StreamEndpoint.
type State int

const (
	Unconfigured State = iota
	Configured
	Started
	Stopped
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// StreamEndpoint is one directional channel's streaming resource. It is
// owned by a single Driver.
type StreamEndpoint struct {
	Channel             int
	Dir                 sdr.Direction
	FIFOSize            int
	ThroughputVsLatency float64
	Format              sdr.Format

	state  State
	stream sdr.Stream
}

func newEndpoint(dir sdr.Direction, ch int) *StreamEndpoint {
	return &StreamEndpoint{
		Channel:             ch,
		Dir:                 dir,
		FIFOSize:            FIFOSize,
		ThroughputVsLatency: ThroughputVsLatency,
		Format:              sdr.FormatF32,
	}
}

// State reports the endpoint's lifecycle state.
func (e *StreamEndpoint) State() State { return e.state }

func (e *StreamEndpoint) String() string {
	return fmt.Sprintf("%s%d(%s)", e.Dir, e.Channel, e.state)
}

func (e *StreamEndpoint) transition(to State, from ...State) error {
	for _, f := range from {
		if e.state == f {
			e.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s %d %s -> %s", ErrInvalidTransition, e.Dir, e.Channel, e.state, to)
}

func (e *StreamEndpoint) configure(dev sdr.Device) error {
	if e.state != Unconfigured {
		return fmt.Errorf("%w: %s %d %s -> %s", ErrInvalidTransition, e.Dir, e.Channel, e.state, Configured)
	}
	stream, err := dev.SetupStream(sdr.StreamConfig{
		Channel:             e.Channel,
		Dir:                 e.Dir,
		FIFOSize:            e.FIFOSize,
		ThroughputVsLatency: e.ThroughputVsLatency,
		Format:              e.Format,
	})
	if err != nil {
		return err
	}
	e.stream = stream
	e.state = Configured
	return nil
}

func (e *StreamEndpoint) start() error {
	if err := e.transition(Started, Configured); err != nil {
		return err
	}
	return e.stream.Start()
}

// stop is valid from Configured too: stopping a stream that never started
// is a hardware no-op.
func (e *StreamEndpoint) stop() error {
	if err := e.transition(Stopped, Configured, Started); err != nil {
		return err
	}
	return e.stream.Stop()
}

func (e *StreamEndpoint) destroy(dev sdr.Device) error {
	if err := e.transition(Destroyed, Stopped); err != nil {
		return err
	}
	err := dev.DestroyStream(e.stream)
	e.stream = nil
	return err
}
