package trxd

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// Response status codes besides 0.
const (
	statusDevice  = -1
	statusBusy    = -16
	statusInvalid = -22
)

// errUnframed ends a session whose input can no longer be split into
// commands.
var errUnframed = errors.New("trxd: request payload length unknown")

// maxStreamSamples caps SEND and RECV counts to one FIFO worth of samples.
const maxStreamSamples = 128 * 1024

// Server exposes one sdr.Device over TCP. Only one client session is served
// at a time since the device itself is exclusive.
type Server struct {
	dev  sdr.Device
	info sdr.Info
	log  logging.Logger

	mu     sync.Mutex
	active bool
	wg     sync.WaitGroup
}

// NewServer wraps dev. The caller keeps ownership of the device and closes
// it after Serve returns.
func NewServer(dev sdr.Device, info sdr.Info, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		dev:  dev,
		info: info,
		log:  logger.With(logging.F("subsystem", "trxd"), logging.F("device", info.Name)),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts sessions on ln until ctx is cancelled, then waits for the
// active session to wind down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("serving", logging.F("addr", ln.Addr().String()))
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.claim() {
			s.log.Warn("rejecting session, device busy", logging.F("remote", conn.RemoteAddr().String()))
			w := bufio.NewWriter(conn)
			_ = writeResponse(w, statusBusy, []byte("device busy"))
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			s.session(ctx, conn)
		}()
	}
}

func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

type session struct {
	srv     *Server
	log     logging.Logger
	streams map[int]sdr.Stream
	started map[int]bool
	nextID  int
	reader  *bufio.Reader
	writer  *bufio.Writer
}

func (s *Server) session(ctx context.Context, conn net.Conn) {
	log := s.log.With(logging.F("remote", conn.RemoteAddr().String()))
	log.Info("session opened")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	sess := &session{
		srv:     s,
		log:     log,
		streams: make(map[int]sdr.Stream),
		started: make(map[int]bool),
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
	}
	defer sess.cleanup()

	for {
		line, err := sess.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("read command failed", logging.Err(err))
			}
			log.Info("session closed")
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		done, err := sess.dispatch(fields)
		if errors.Is(err, errUnframed) {
			log.Warn("dropping session after unframed payload", logging.F("cmd", fields[0]))
			return
		}
		if err != nil {
			log.Warn("write response failed", logging.Err(err))
			return
		}
		if done {
			log.Info("session closed by client")
			return
		}
	}
}

// cleanup stops and destroys whatever streams the client left behind.
func (sess *session) cleanup() {
	for id, st := range sess.streams {
		if sess.started[id] {
			if err := st.Stop(); err != nil {
				sess.log.Warn("stop leftover stream failed", logging.F("stream", id), logging.Err(err))
			}
		}
		if err := sess.srv.dev.DestroyStream(st); err != nil {
			sess.log.Warn("destroy leftover stream failed", logging.F("stream", id), logging.Err(err))
		}
		delete(sess.streams, id)
	}
}

func (sess *session) ok(payload []byte) error {
	return writeResponse(sess.writer, 0, payload)
}

func (sess *session) fail(status int, msg string) error {
	return writeResponse(sess.writer, status, []byte(msg))
}

// reply turns a device error into a status -1 response carrying the
// device's own error text.
func (sess *session) reply(err error, payload []byte) error {
	if err == nil {
		return sess.ok(payload)
	}
	msg := sess.srv.dev.LastError()
	if msg == "" {
		msg = err.Error()
	}
	return sess.fail(statusDevice, msg)
}

func (sess *session) dispatch(fields []string) (bool, error) {
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]
	dev := sess.srv.dev
	sess.log.Debug("command", logging.F("cmd", cmd), logging.F("args", strings.Join(args, " ")))

	switch cmd {
	case "HELLO":
		return false, sess.ok([]byte(fmt.Sprintf("%d %s", ProtocolVersion, sess.srv.info.Serial)))
	case "CLOSE":
		sess.cleanup()
		return true, sess.ok(nil)
	case "INIT":
		return false, sess.reply(dev.Init(), nil)
	case "LOADCONFIG":
		if len(args) == 0 {
			return false, sess.fail(statusInvalid, "LOADCONFIG needs a path")
		}
		return false, sess.reply(dev.LoadConfig(strings.Join(args, " ")), nil)
	case "CALCACHE":
		var enable bool
		if err := parseArgs(args, &enable); err != nil {
			return false, sess.fail(statusInvalid, err.Error())
		}
		return false, sess.reply(dev.EnableCalibCache(enable), nil)
	case "VCTCXO":
		var value int
		if err := parseArgs(args, &value); err != nil || value < 0 || value > 0xffff {
			return false, sess.fail(statusInvalid, "VCTCXO needs a value in 0..65535")
		}
		return false, sess.reply(dev.VCTCXOWrite(uint16(value)), nil)
	case "ENABLE":
		var dir sdr.Direction
		var ch int
		var enable bool
		if err := parseArgs(args, &dir, &ch, &enable); err != nil {
			return false, sess.fail(statusInvalid, err.Error())
		}
		return false, sess.reply(dev.EnableChannel(dir, ch, enable), nil)
	case "GAIN":
		var dir sdr.Direction
		var ch, gain int
		if err := parseArgs(args, &dir, &ch, &gain); err != nil {
			return false, sess.fail(statusInvalid, err.Error())
		}
		return false, sess.reply(dev.SetGaindB(dir, ch, gain), nil)
	case "RATE":
		var rate float64
		var oversample int
		if err := parseArgs(args, &rate, &oversample); err != nil {
			return false, sess.fail(statusInvalid, err.Error())
		}
		return false, sess.reply(dev.SetSampleRate(rate, oversample), nil)
	case "LO", "CALIBRATE", "LPF":
		var dir sdr.Direction
		var ch int
		var value float64
		if err := parseArgs(args, &dir, &ch, &value); err != nil {
			return false, sess.fail(statusInvalid, err.Error())
		}
		var err error
		switch cmd {
		case "LO":
			err = dev.SetLOFrequency(dir, ch, value)
		case "CALIBRATE":
			err = dev.Calibrate(dir, ch, value)
		default:
			err = dev.SetLPFBW(dir, ch, value)
		}
		return false, sess.reply(err, nil)
	case "SETUP":
		return false, sess.setup(args)
	case "START", "STOP", "DESTROY":
		return false, sess.control(cmd, args)
	case "SEND":
		return false, sess.send(args)
	case "RECV":
		return false, sess.recv(args)
	default:
		return false, sess.fail(statusInvalid, "unknown command "+cmd)
	}
}

func (sess *session) setup(args []string) error {
	var cfg sdr.StreamConfig
	if err := parseArgs(args, &cfg.Dir, &cfg.Channel, &cfg.FIFOSize, &cfg.ThroughputVsLatency, &cfg.Format); err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	st, err := sess.srv.dev.SetupStream(cfg)
	if err != nil {
		return sess.reply(err, nil)
	}
	sess.nextID++
	sess.streams[sess.nextID] = st
	return sess.ok([]byte(strconv.Itoa(sess.nextID)))
}

func (sess *session) stream(idArg string) (int, sdr.Stream, error) {
	id, err := strconv.Atoi(idArg)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid stream id %q", idArg)
	}
	st, ok := sess.streams[id]
	if !ok {
		return 0, nil, fmt.Errorf("unknown stream %d", id)
	}
	return id, st, nil
}

func (sess *session) control(cmd string, args []string) error {
	if len(args) != 1 {
		return sess.fail(statusInvalid, cmd+" needs a stream id")
	}
	id, st, err := sess.stream(args[0])
	if err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	switch cmd {
	case "START":
		err = st.Start()
		if err == nil {
			sess.started[id] = true
		}
	case "STOP":
		err = st.Stop()
		if err == nil {
			sess.started[id] = false
		}
	default:
		err = sess.srv.dev.DestroyStream(st)
		if err == nil {
			delete(sess.streams, id)
			delete(sess.started, id)
		}
	}
	return sess.reply(err, nil)
}

// send handles "SEND id count ts wait flush timeout_ms" followed by count
// samples of payload. The payload is drained before anything else is
// validated. A count that cannot be trusted leaves the payload length
// unknown, so the session is dropped after the error reply.
func (sess *session) send(args []string) error {
	count := -1
	if len(args) == 6 {
		if n, err := strconv.Atoi(args[1]); err == nil && n >= 0 && n <= maxStreamSamples {
			count = n
		}
	}
	if count < 0 {
		msg := fmt.Sprintf("SEND needs id count ts wait flush timeout_ms with count in 0..%d", maxStreamSamples)
		if err := sess.fail(statusInvalid, msg); err != nil {
			return err
		}
		return errUnframed
	}

	payload := make([]byte, count*sampleSize)
	if _, err := io.ReadFull(sess.reader, payload); err != nil {
		return fmt.Errorf("read SEND payload: %w", err)
	}
	var timeoutMS int
	var meta sdr.Meta
	if err := parseArgs(args[2:], &meta.Timestamp, &meta.WaitForTimestamp, &meta.FlushPartialPacket, &timeoutMS); err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	_, st, err := sess.stream(args[0])
	if err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	samples := make([]complex64, count)
	if _, err := DecodeIQ(samples, payload); err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	n, err := st.Send(samples, meta, time.Duration(timeoutMS)*time.Millisecond)
	return sess.reply(err, []byte(strconv.Itoa(n)))
}

// recv handles "RECV id count timeout_ms". The reply is the 8-byte LE
// timestamp of the first sample followed by the samples.
func (sess *session) recv(args []string) error {
	if len(args) != 3 {
		return sess.fail(statusInvalid, "RECV needs id count timeout_ms")
	}
	_, st, err := sess.stream(args[0])
	if err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	var count, timeoutMS int
	if err := parseArgs(args[1:], &count, &timeoutMS); err != nil {
		return sess.fail(statusInvalid, err.Error())
	}
	if count < 0 || count > maxStreamSamples {
		return sess.fail(statusInvalid, fmt.Sprintf("sample count %d out of range", count))
	}
	buf := make([]complex64, count)
	n, meta, err := st.Recv(buf, time.Duration(timeoutMS)*time.Millisecond)
	if err != nil {
		return sess.reply(err, nil)
	}
	payload := make([]byte, 8, 8+n*sampleSize)
	binary.LittleEndian.PutUint64(payload, meta.Timestamp)
	payload = append(payload, EncodeIQ(buf[:n])...)
	return sess.ok(payload)
}

// parseArgs converts positional arguments into the pointed-to values.
func parseArgs(args []string, dst ...any) error {
	if len(args) != len(dst) {
		return fmt.Errorf("expected %d arguments, got %d", len(dst), len(args))
	}
	for i, d := range dst {
		var err error
		switch v := d.(type) {
		case *int:
			*v, err = strconv.Atoi(args[i])
		case *uint64:
			*v, err = strconv.ParseUint(args[i], 10, 64)
		case *float64:
			*v, err = strconv.ParseFloat(args[i], 64)
		case *bool:
			*v, err = parseBool(args[i])
		case *sdr.Direction:
			*v, err = sdr.ParseDirection(args[i])
		case *sdr.Format:
			*v, err = sdr.ParseFormat(args[i])
		default:
			err = fmt.Errorf("unsupported argument type %T", d)
		}
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
	}
	return nil
}
