package sdr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MaxChannels is the number of RX (and TX) paths on an LMS7002M-class front end.
const MaxChannels = 4

// Direction selects the receive or transmit side of a channel.
type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "RX"
	case TX:
		return "TX"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection converts "rx"/"tx" (any case) to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RX":
		return RX, nil
	case "TX":
		return TX, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Format is the host-side sample representation of a stream.
type Format int

const (
	// FormatF32 is 32-bit float I/Q interleaved, i.e. complex64.
	FormatF32 Format = iota
	FormatI16
	FormatI12
)

func (f Format) String() string {
	switch f {
	case FormatF32:
		return "f32"
	case FormatI16:
		return "i16"
	case FormatI12:
		return "i12"
	default:
		return "unknown"
	}
}

// ParseFormat converts the String form back to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32":
		return FormatF32, nil
	case "i16":
		return FormatI16, nil
	case "i12":
		return FormatI12, nil
	default:
		return 0, fmt.Errorf("unknown sample format %q", s)
	}
}

// StreamConfig describes one directional hardware stream.
type StreamConfig struct {
	Channel             int
	Dir                 Direction
	FIFOSize            int
	ThroughputVsLatency float64
	Format              Format
}

// Meta carries the hardware timestamp and submission flags of one transfer.
// Timestamps count sample periods at the configured rate.
type Meta struct {
	Timestamp          uint64
	WaitForTimestamp   bool
	FlushPartialPacket bool
}

// Stream is an allocated hardware stream endpoint.
type Stream interface {
	Config() StreamConfig
	Start() error
	Stop() error
	// Send queues samples for transmission. With WaitForTimestamp set the
	// hardware holds emission until meta.Timestamp.
	Send(samples []complex64, meta Meta, timeout time.Duration) (int, error)
	// Recv fills samples and reports the timestamp of the first one. A
	// short count means the timeout elapsed.
	Recv(samples []complex64, timeout time.Duration) (int, Meta, error)
}

// Device is the opaque RF front-end capability the driver sequences.
type Device interface {
	Init() error
	LoadConfig(path string) error
	EnableCalibCache(enable bool) error
	VCTCXOWrite(value uint16) error
	EnableChannel(dir Direction, ch int, enable bool) error
	SetGaindB(dir Direction, ch int, gain int) error
	SetSampleRate(rate float64, oversample int) error
	SetLOFrequency(dir Direction, ch int, freq float64) error
	Calibrate(dir Direction, ch int, bandwidth float64) error
	SetLPFBW(dir Direction, ch int, bandwidth float64) error
	SetupStream(cfg StreamConfig) (Stream, error)
	DestroyStream(s Stream) error
	// LastError returns the text of the most recent failed call.
	LastError() string
	Close() error
}

// Info identifies an enumerated device.
type Info struct {
	Name   string
	Serial string
	Addr   string
}

func (i Info) String() string {
	parts := []string{i.Name}
	if i.Serial != "" {
		parts = append(parts, "serial="+i.Serial)
	}
	if i.Addr != "" {
		parts = append(parts, "addr="+i.Addr)
	}
	return strings.Join(parts, ",")
}

// Enumerator lists available devices and opens one of them.
type Enumerator interface {
	List(ctx context.Context) ([]Info, error)
	Open(ctx context.Context, info Info) (Device, error)
}
