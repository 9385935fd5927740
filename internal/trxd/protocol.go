package trxd

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ProtocolVersion is reported by HELLO and checked by Dial.
const ProtocolVersion = 1

// DefaultPort is the TCP port trxd listens on.
const DefaultPort = 30432

// sampleSize is one complex64 on the wire: float32 I then float32 Q, LE.
const sampleSize = 8

// maxPayload bounds a single response body; a full FIFO of samples plus header.
const maxPayload = 128*1024*sampleSize + 64

// RemoteError is a non-zero status returned by the server.
type RemoteError struct {
	Cmd    string
	Status int
	Msg    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("trxd %s: status %d: %s", e.Cmd, e.Status, e.Msg)
}

// ensureNewline ensures commands always end with \n.
func ensureNewline(s string) string {
	if !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

func writeResponse(w *bufio.Writer, status int, payload []byte) error {
	if _, err := fmt.Fprintf(w, "%d %d\n", status, len(payload)); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readResponse(r *bufio.Reader) (int, []byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, nil, fmt.Errorf("read response header: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, nil, fmt.Errorf("malformed response header %q", strings.TrimSpace(line))
	}
	status, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed status %q", fields[0])
	}
	length, err := strconv.Atoi(fields[1])
	if err != nil || length < 0 || length > maxPayload {
		return 0, nil, fmt.Errorf("malformed payload length %q", fields[1])
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read response payload: %w", err)
	}
	return status, payload, nil
}

// EncodeIQ converts complex samples into interleaved float32 LE I/Q.
func EncodeIQ(samples []complex64) []byte {
	buf := make([]byte, len(samples)*sampleSize)
	for n, v := range samples {
		off := n * sampleSize
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(real(v)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(imag(v)))
	}
	return buf
}

// DecodeIQ fills dst from interleaved float32 LE I/Q and returns the number
// of samples written.
func DecodeIQ(dst []complex64, buf []byte) (int, error) {
	if len(buf)%sampleSize != 0 {
		return 0, errors.New("DecodeIQ: buffer length not multiple of 8")
	}
	n := len(buf) / sampleSize
	if n > len(dst) {
		return 0, fmt.Errorf("DecodeIQ: %d samples do not fit %d", n, len(dst))
	}
	for i := 0; i < n; i++ {
		off := i * sampleSize
		re := math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		dst[i] = complex(re, im)
	}
	return n, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected 0 or 1, got %q", s)
	}
}
