package trxd

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// Options tunes a Client.
type Options struct {
	// Timeout bounds each control round trip. Stream calls add their own
	// wait on top.
	Timeout time.Duration
	// DialRetries caps connection attempts after the first one.
	DialRetries uint64
	// Uploader, when set, copies register images to the server host before
	// LOADCONFIG. Without it the path is taken as a server-side path.
	Uploader *SSHUploader
	Logger   logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.DialRetries == 0 {
		o.DialRetries = 4
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}

// Client drives a remote device through a trxd server. It implements
// sdr.Device; one request is in flight at a time so an RX thread and a TX
// thread can share it.
type Client struct {
	mu      sync.Mutex
	addr    string
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	opts    Options
	log     logging.Logger
	lastErr string
}

var _ sdr.Device = (*Client)(nil)

// Dial connects to a trxd server, retrying with exponential backoff, and
// checks the protocol version.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(logging.F("subsystem", "trxd"), logging.F("addr", addr))

	var conn net.Conn
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, opts.DialRetries), ctx)

	op := func() error {
		d := net.Dialer{Timeout: opts.Timeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("connect failed, retrying", logging.F("wait", wait), logging.Err(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("connect to trxd at %s: %w", addr, err)
	}

	c := &Client{
		addr:   addr,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		opts:   opts,
		log:    log,
	}

	reply, err := c.call("HELLO", nil, 0)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	version, err := strconv.Atoi(strings.Fields(string(reply) + " x")[0])
	if err != nil || version != ProtocolVersion {
		_ = conn.Close()
		return nil, fmt.Errorf("trxd at %s speaks protocol %q, want %d", addr, strings.TrimSpace(string(reply)), ProtocolVersion)
	}
	log.Info("connected", logging.F("server", strings.TrimSpace(string(reply))))
	return c, nil
}

// call performs one request/response exchange. extra widens the I/O
// deadline for commands that block on the device.
func (c *Client) call(cmd string, payload []byte, extra time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.New("trxd client closed")
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.opts.Timeout + extra))

	if _, err := c.writer.WriteString(ensureNewline(cmd)); err != nil {
		return nil, c.drop(fmt.Errorf("send %s: %w", verb(cmd), err))
	}
	if len(payload) > 0 {
		if _, err := c.writer.Write(payload); err != nil {
			return nil, c.drop(fmt.Errorf("send %s payload: %w", verb(cmd), err))
		}
	}
	if err := c.writer.Flush(); err != nil {
		return nil, c.drop(fmt.Errorf("send %s: %w", verb(cmd), err))
	}

	status, body, err := readResponse(c.reader)
	if err != nil {
		return nil, c.drop(fmt.Errorf("%s reply: %w", verb(cmd), err))
	}
	if status != 0 {
		c.lastErr = string(body)
		return nil, &RemoteError{Cmd: verb(cmd), Status: status, Msg: string(body)}
	}
	return body, nil
}

// drop closes a connection left mid-request so no later call reads a stale
// reply. Caller must hold c.mu.
func (c *Client) drop(err error) error {
	c.lastErr = err.Error()
	c.log.Warn("dropping connection", logging.Err(err))
	_ = c.conn.Close()
	c.conn = nil
	return err
}

func verb(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return strings.TrimSpace(cmd)
}

func (c *Client) simple(format string, args ...any) error {
	_, err := c.call(fmt.Sprintf(format, args...), nil, 0)
	return err
}

func (c *Client) Init() error { return c.simple("INIT") }

// LoadConfig loads a register image. With an uploader configured the local
// file is copied to the server host first.
func (c *Client) LoadConfig(path string) error {
	remote := path
	if c.opts.Uploader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
		defer cancel()
		p, err := c.opts.Uploader.Upload(ctx, path)
		if err != nil {
			c.mu.Lock()
			c.lastErr = err.Error()
			c.mu.Unlock()
			return err
		}
		remote = p
	}
	return c.simple("LOADCONFIG %s", remote)
}

func (c *Client) EnableCalibCache(enable bool) error {
	return c.simple("CALCACHE %s", boolArg(enable))
}

func (c *Client) VCTCXOWrite(value uint16) error { return c.simple("VCTCXO %d", value) }

func (c *Client) EnableChannel(dir sdr.Direction, ch int, enable bool) error {
	return c.simple("ENABLE %s %d %s", dir, ch, boolArg(enable))
}

func (c *Client) SetGaindB(dir sdr.Direction, ch int, gain int) error {
	return c.simple("GAIN %s %d %d", dir, ch, gain)
}

func (c *Client) SetSampleRate(rate float64, oversample int) error {
	return c.simple("RATE %.0f %d", rate, oversample)
}

func (c *Client) SetLOFrequency(dir sdr.Direction, ch int, freq float64) error {
	return c.simple("LO %s %d %.0f", dir, ch, freq)
}

func (c *Client) Calibrate(dir sdr.Direction, ch int, bandwidth float64) error {
	// Calibration runs for seconds on real boards.
	_, err := c.call(fmt.Sprintf("CALIBRATE %s %d %.0f", dir, ch, bandwidth), nil, 30*time.Second)
	return err
}

func (c *Client) SetLPFBW(dir sdr.Direction, ch int, bandwidth float64) error {
	return c.simple("LPF %s %d %.0f", dir, ch, bandwidth)
}

func (c *Client) SetupStream(cfg sdr.StreamConfig) (sdr.Stream, error) {
	reply, err := c.call(fmt.Sprintf("SETUP %s %d %d %g %s",
		cfg.Dir, cfg.Channel, cfg.FIFOSize, cfg.ThroughputVsLatency, cfg.Format), nil, 0)
	if err != nil {
		return nil, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(reply)))
	if err != nil {
		return nil, fmt.Errorf("invalid stream id %q", reply)
	}
	return &remoteStream{c: c, id: id, cfg: cfg}, nil
}

func (c *Client) DestroyStream(s sdr.Stream) error {
	rs, ok := s.(*remoteStream)
	if !ok || rs.c != c {
		return errors.New("stream does not belong to this client")
	}
	return c.simple("DESTROY %d", rs.id)
}

func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close ends the session. The server keeps its device open for the next
// client.
func (c *Client) Close() error {
	if _, err := c.call("CLOSE", nil, 0); err != nil {
		c.log.Debug("close handshake failed", logging.Err(err))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type remoteStream struct {
	c   *Client
	id  int
	cfg sdr.StreamConfig
}

func (s *remoteStream) Config() sdr.StreamConfig { return s.cfg }

func (s *remoteStream) Start() error { return s.c.simple("START %d", s.id) }

func (s *remoteStream) Stop() error { return s.c.simple("STOP %d", s.id) }

func (s *remoteStream) Send(samples []complex64, meta sdr.Meta, timeout time.Duration) (int, error) {
	cmd := fmt.Sprintf("SEND %d %d %d %s %s %d", s.id, len(samples), meta.Timestamp,
		boolArg(meta.WaitForTimestamp), boolArg(meta.FlushPartialPacket), timeout.Milliseconds())
	reply, err := s.c.call(cmd, EncodeIQ(samples), timeout)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(reply)))
	if err != nil {
		return 0, fmt.Errorf("invalid send count %q", reply)
	}
	return n, nil
}

func (s *remoteStream) Recv(samples []complex64, timeout time.Duration) (int, sdr.Meta, error) {
	reply, err := s.c.call(fmt.Sprintf("RECV %d %d %d", s.id, len(samples), timeout.Milliseconds()), nil, timeout)
	if err != nil {
		return 0, sdr.Meta{}, err
	}
	if len(reply) < 8 {
		return 0, sdr.Meta{}, fmt.Errorf("short RECV reply (%d bytes)", len(reply))
	}
	meta := sdr.Meta{Timestamp: binary.LittleEndian.Uint64(reply[:8])}
	n, err := DecodeIQ(samples, reply[8:])
	if err != nil {
		return 0, sdr.Meta{}, err
	}
	return n, meta, nil
}
