package sdr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjboer/GoTRX/internal/dsp"
)

func TestMockRecvProducesContinuousTimestamps(t *testing.T) {
	m := NewMock("a")
	if err := m.SetSampleRate(1.92e6, 0); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	s, err := m.SetupStream(StreamConfig{Channel: 0, Dir: RX, FIFOSize: 1024})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	buf := make([]complex64, 256)
	n, meta, err := s.Recv(buf, 30*time.Millisecond)
	if err != nil || n != 256 || meta.Timestamp != 0 {
		t.Fatalf("first recv: n=%d ts=%d err=%v", n, meta.Timestamp, err)
	}
	n, meta, err = s.Recv(buf, 30*time.Millisecond)
	if err != nil || n != 256 || meta.Timestamp != 256 {
		t.Fatalf("second recv: n=%d ts=%d err=%v", n, meta.Timestamp, err)
	}
}

func TestMockToneLandsInExpectedBin(t *testing.T) {
	m := NewMock("a")
	m.ToneOffset = 240e3
	_ = m.SetSampleRate(1.92e6, 0)
	s, _ := m.SetupStream(StreamConfig{Channel: 1, Dir: RX, FIFOSize: 1024})
	_ = s.Start()

	buf := make([]complex64, 64)
	if _, _, err := s.Recv(buf, 0); err != nil {
		t.Fatalf("recv: %v", err)
	}
	peak := dsp.Peak(buf)
	// 240 kHz / 1.92 MHz * 64 = bin 8 above DC, DC sits at n/2 after the shift.
	if peak.Bin != 32+8 {
		t.Fatalf("expected tone at bin 40, got %d", peak.Bin)
	}
}

func TestMockRecvLimitAndNotStarted(t *testing.T) {
	m := NewMock("a")
	s, _ := m.SetupStream(StreamConfig{Channel: 0, Dir: RX, FIFOSize: 16})
	if _, _, err := s.Recv(make([]complex64, 8), 0); err == nil {
		t.Fatal("expected error before start")
	}
	if m.LastError() != "stream not started" {
		t.Fatalf("unexpected last error %q", m.LastError())
	}

	_ = s.Start()
	m.SetRecvLimit(3)
	n, _, err := s.Recv(make([]complex64, 8), 0)
	if err != nil || n != 3 {
		t.Fatalf("expected short read of 3, got %d (%v)", n, err)
	}
}

func TestMockFailOnPrefix(t *testing.T) {
	m := NewMock("a")
	m.FailOn("SetLOFrequency RX 2", errors.New("pll lock failed"))

	if err := m.SetLOFrequency(RX, 0, 2.6e9); err != nil {
		t.Fatalf("group 0 should succeed: %v", err)
	}
	if err := m.SetLOFrequency(RX, 2, 2.6e9); err == nil {
		t.Fatal("group 2 should fail")
	}
	if m.LastError() != "pll lock failed" {
		t.Fatalf("unexpected last error %q", m.LastError())
	}
	if got := m.CountCalls("SetLOFrequency"); got != 2 {
		t.Fatalf("expected 2 LO calls, got %d", got)
	}
}

func TestMockEnumeratorOpen(t *testing.T) {
	a, b := NewMock("a"), NewMock("b")
	enum := NewMockEnumerator(a, b)
	list, err := enum.List(context.Background())
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %v", list, err)
	}
	dev, err := enum.Open(context.Background(), list[1])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if dev != Device(b) {
		t.Fatal("opened the wrong device")
	}
	if _, err := enum.Open(context.Background(), Info{Name: "zz"}); err == nil {
		t.Fatal("expected error for unknown device")
	}
}

func TestMockEnumeratorReopensClosedDevice(t *testing.T) {
	m := NewMock("a")
	enum := NewMockEnumerator(m)
	dev, err := enum.Open(context.Background(), m.Info())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = dev.Close()
	if err := dev.Init(); err == nil {
		t.Fatal("expected init on a closed device to fail")
	}

	dev, err = enum.Open(context.Background(), m.Info())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m.Closed() {
		t.Fatal("reopened device still reports closed")
	}
	if err := dev.Init(); err != nil {
		t.Fatalf("init after reopen: %v", err)
	}
	if enum.Opens() != 2 {
		t.Fatalf("expected 2 opens, got %d", enum.Opens())
	}
}
