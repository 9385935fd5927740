package trxd

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// scriptedServer answers each request line with the next canned response
// and records what it received.
func scriptedServer(t *testing.T, responses ...string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, len(responses))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for _, resp := range responses {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			received <- strings.TrimSpace(line)
			if _, err := conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String(), received
}

func quietOptions() Options {
	return Options{Timeout: time.Second, DialRetries: 1, Logger: logging.Discard()}
}

func TestDialRejectsProtocolMismatch(t *testing.T) {
	addr, received := scriptedServer(t, "0 6\n9 MOCK")

	_, err := Dial(context.Background(), addr, quietOptions())
	require.Error(t, err)
	assert.Equal(t, "HELLO", <-received)
}

func TestDialGivesUpOnUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err = Dial(ctx, addr, quietOptions())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second, "dial retried for too long")
}

func TestSendFramesPayloadAfterCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type request struct {
		line    string
		payload []byte
	}
	got := make(chan request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)

		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		_ = writeResponse(w, 0, []byte("1 SCRIPTED"))

		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		payload := make([]byte, 16)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}
		got <- request{line: strings.TrimSpace(line), payload: payload}
		_ = writeResponse(w, 0, []byte("2"))
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), quietOptions())
	require.NoError(t, err)
	st := &remoteStream{c: c, id: 7, cfg: sdr.StreamConfig{Dir: sdr.TX}}
	n, err := st.Send([]complex64{1, complex(0, 1)}, sdr.Meta{Timestamp: 1020, WaitForTimestamp: true}, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	req := <-got
	assert.Equal(t, "SEND 7 2 1020 1 0 30", req.line)
	var decoded [2]complex64
	_, err = DecodeIQ(decoded[:], req.payload)
	require.NoError(t, err)
	assert.Equal(t, [2]complex64{1, complex(0, 1)}, decoded)
}

func TestClientDropsConnectionAfterTimedOutReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	hold := make(chan struct{})
	defer close(hold)
	requests := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)

		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		_ = writeResponse(w, 0, []byte("1 SCRIPTED"))

		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		requests <- strings.TrimSpace(line)
		// Header promises five bytes, only two arrive before the deadline.
		_, _ = conn.Write([]byte("0 5\nab"))
		<-hold
	}()

	opts := quietOptions()
	opts.Timeout = 150 * time.Millisecond
	c, err := Dial(context.Background(), ln.Addr().String(), opts)
	require.NoError(t, err)

	require.Error(t, c.Init())
	assert.Equal(t, "INIT", <-requests)
	assert.NotEmpty(t, c.LastError())

	err = c.EnableCalibCache(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.Empty(t, requests, "no request may follow a broken exchange")
	assert.NoError(t, c.Close())
}

func TestDestroyStreamRejectsForeignStream(t *testing.T) {
	c := &Client{}
	assert.Error(t, c.DestroyStream(&remoteStream{c: &Client{}, id: 1}))
}
