package sdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// MockDevice simulates an LMS7002M-class front end. It records every control
// call, synthesizes a timestamped tone on RX and keeps TX submissions so tests
// and the device server can run without hardware.
type MockDevice struct {
	mu sync.Mutex

	info       Info
	calls      []string
	failures   map[string]error
	lastErr    string
	closed     bool
	sampleRate float64
	oversample int

	// ToneOffset is the baseband frequency of the synthesized RX tone in Hz.
	// Zero selects sampleRate/8.
	ToneOffset float64
	// Amplitude of the synthesized tone.
	Amplitude float64

	recvLimit int
	nextID    int
	streams   map[int]*mockStream
	sent      []SentBlock
}

// SentBlock is one TX submission captured by the mock.
type SentBlock struct {
	Channel   int
	Timestamp uint64
	Count     int
	Wait      bool
	Flush     bool
}

// NewMock builds a simulated device.
func NewMock(name string) *MockDevice {
	return &MockDevice{
		info:      Info{Name: name, Serial: fmt.Sprintf("MOCK-%s", strings.ToUpper(name))},
		failures:  make(map[string]error),
		streams:   make(map[int]*mockStream),
		Amplitude: 0.5,
	}
}

// Info returns the identity the mock enumerates with.
func (m *MockDevice) Info() Info { return m.info }

// SetTone changes the synthesized RX signal while streams run.
func (m *MockDevice) SetTone(offset, amplitude float64) {
	m.mu.Lock()
	m.ToneOffset = offset
	m.Amplitude = amplitude
	m.mu.Unlock()
}

// Tone reports the current synthesized signal.
func (m *MockDevice) Tone() (offset, amplitude float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ToneOffset, m.Amplitude
}

// FailOn makes every call whose log line starts with prefix fail with err.
// A nil err clears the failure.
func (m *MockDevice) FailOn(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, prefix)
		return
	}
	m.failures[prefix] = err
}

// SetRecvLimit caps how many samples a single Recv returns, simulating a
// timeout with partial data. Zero removes the cap.
func (m *MockDevice) SetRecvLimit(n int) {
	m.mu.Lock()
	m.recvLimit = n
	m.mu.Unlock()
}

// Calls returns a copy of the recorded control call log.
func (m *MockDevice) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CountCalls counts recorded calls starting with prefix.
func (m *MockDevice) CountCalls(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Sent returns the TX submissions seen so far.
func (m *MockDevice) Sent() []SentBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentBlock, len(m.sent))
	copy(out, m.sent)
	return out
}

// SampleRate reports the last rate programmed through SetSampleRate.
func (m *MockDevice) SampleRate() (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleRate, m.oversample
}

// Closed reports whether Close has been called.
func (m *MockDevice) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// record appends a call and returns the injected failure, if any. Caller
// must hold m.mu.
func (m *MockDevice) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	m.calls = append(m.calls, call)
	if m.closed {
		m.lastErr = "device closed"
		return errors.New(m.lastErr)
	}
	for prefix, err := range m.failures {
		if strings.HasPrefix(call, prefix) {
			m.lastErr = err.Error()
			return err
		}
	}
	return nil
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= MaxChannels {
		return fmt.Errorf("channel %d out of range", ch)
	}
	return nil
}

func (m *MockDevice) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Init")
}

func (m *MockDevice) LoadConfig(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("LoadConfig %s", path)
}

func (m *MockDevice) EnableCalibCache(enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("EnableCalibCache %t", enable)
}

func (m *MockDevice) VCTCXOWrite(value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("VCTCXOWrite %d", value)
}

func (m *MockDevice) EnableChannel(dir Direction, ch int, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("EnableChannel %s %d %t", dir, ch, enable); err != nil {
		return err
	}
	return checkChannel(ch)
}

func (m *MockDevice) SetGaindB(dir Direction, ch int, gain int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetGaindB %s %d %d", dir, ch, gain); err != nil {
		return err
	}
	return checkChannel(ch)
}

func (m *MockDevice) SetSampleRate(rate float64, oversample int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetSampleRate %.0f %d", rate, oversample); err != nil {
		return err
	}
	if rate <= 0 {
		m.lastErr = "sample rate must be positive"
		return errors.New(m.lastErr)
	}
	m.sampleRate = rate
	m.oversample = oversample
	return nil
}

func (m *MockDevice) SetLOFrequency(dir Direction, ch int, freq float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetLOFrequency %s %d %.0f", dir, ch, freq); err != nil {
		return err
	}
	return checkChannel(ch)
}

func (m *MockDevice) Calibrate(dir Direction, ch int, bandwidth float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Calibrate %s %d %.0f", dir, ch, bandwidth); err != nil {
		return err
	}
	return checkChannel(ch)
}

func (m *MockDevice) SetLPFBW(dir Direction, ch int, bandwidth float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetLPFBW %s %d %.0f", dir, ch, bandwidth); err != nil {
		return err
	}
	return checkChannel(ch)
}

func (m *MockDevice) SetupStream(cfg StreamConfig) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetupStream %s %d", cfg.Dir, cfg.Channel); err != nil {
		return nil, err
	}
	if err := checkChannel(cfg.Channel); err != nil {
		return nil, err
	}
	if cfg.FIFOSize <= 0 {
		m.lastErr = "fifo size must be positive"
		return nil, errors.New(m.lastErr)
	}
	m.nextID++
	s := &mockStream{id: m.nextID, dev: m, cfg: cfg}
	m.streams[s.id] = s
	return s, nil
}

func (m *MockDevice) DestroyStream(s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := s.(*mockStream)
	if !ok || m.streams[ms.id] == nil {
		return fmt.Errorf("unknown stream")
	}
	if err := m.record("DestroyStream %s %d", ms.cfg.Dir, ms.cfg.Channel); err != nil {
		return err
	}
	delete(m.streams, ms.id)
	return nil
}

func (m *MockDevice) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "Close")
	m.closed = true
	return nil
}

// reopen hands out the device as a fresh handle after a Close.
func (m *MockDevice) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.closed = false
		m.lastErr = ""
	}
}

type mockStream struct {
	id      int
	dev     *MockDevice
	cfg     StreamConfig
	running bool
	nextTS  uint64
}

func (s *mockStream) Config() StreamConfig { return s.cfg }

func (s *mockStream) Start() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if err := s.dev.record("StartStream %s %d", s.cfg.Dir, s.cfg.Channel); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *mockStream) Stop() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	// Stopping a stream that never started is a no-op on hardware.
	if err := s.dev.record("StopStream %s %d", s.cfg.Dir, s.cfg.Channel); err != nil {
		return err
	}
	s.running = false
	return nil
}

func (s *mockStream) Send(samples []complex64, meta Meta, _ time.Duration) (int, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if err := s.dev.record("SendStream %s %d", s.cfg.Dir, s.cfg.Channel); err != nil {
		return 0, err
	}
	if s.cfg.Dir != TX {
		return 0, fmt.Errorf("send on %s stream", s.cfg.Dir)
	}
	if !s.running {
		s.dev.lastErr = "stream not started"
		return 0, errors.New(s.dev.lastErr)
	}
	s.dev.sent = append(s.dev.sent, SentBlock{
		Channel:   s.cfg.Channel,
		Timestamp: meta.Timestamp,
		Count:     len(samples),
		Wait:      meta.WaitForTimestamp,
		Flush:     meta.FlushPartialPacket,
	})
	return len(samples), nil
}

func (s *mockStream) Recv(samples []complex64, _ time.Duration) (int, Meta, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if err := s.dev.record("RecvStream %s %d", s.cfg.Dir, s.cfg.Channel); err != nil {
		return 0, Meta{}, err
	}
	if s.cfg.Dir != RX {
		return 0, Meta{}, fmt.Errorf("recv on %s stream", s.cfg.Dir)
	}
	if !s.running {
		s.dev.lastErr = "stream not started"
		return 0, Meta{}, errors.New(s.dev.lastErr)
	}

	n := len(samples)
	if s.dev.recvLimit > 0 && n > s.dev.recvLimit {
		n = s.dev.recvLimit
	}

	fs := s.dev.sampleRate
	if fs <= 0 {
		fs = 1.92e6
	}
	tone := s.dev.ToneOffset
	if tone == 0 {
		tone = fs / 8
	}
	step := 2 * math.Pi * tone / fs
	for i := 0; i < n; i++ {
		phase := step * float64(s.nextTS+uint64(i))
		samples[i] = complex64(complex(s.dev.Amplitude*math.Cos(phase), s.dev.Amplitude*math.Sin(phase)))
	}

	meta := Meta{Timestamp: s.nextTS}
	s.nextTS += uint64(n)
	return n, meta, nil
}

// MockEnumerator serves a fixed list of mock devices.
type MockEnumerator struct {
	mu      sync.Mutex
	Devices []*MockDevice
	opens   int
}

// NewMockEnumerator returns an enumerator over the given devices.
func NewMockEnumerator(devices ...*MockDevice) *MockEnumerator {
	return &MockEnumerator{Devices: devices}
}

func (e *MockEnumerator) List(_ context.Context) ([]Info, error) {
	out := make([]Info, 0, len(e.Devices))
	for _, d := range e.Devices {
		out = append(out, d.Info())
	}
	return out, nil
}

func (e *MockEnumerator) Open(_ context.Context, info Info) (Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.Devices {
		if d.Info() == info {
			e.opens++
			d.reopen()
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device %s", info)
}

// Opens reports how many times Open succeeded.
func (e *MockEnumerator) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}
