package rpc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// maxFrameSize bounds a single request so a broken peer cannot make the
// host allocate without limit.
const maxFrameSize = 1 << 20 // 1MB

// ReadFrame reads one length-prefixed message: a 4-byte little-endian
// length followed by that many bytes of JSON, the framing used by browser
// native-messaging hosts.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed message.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Host serves framed requests from a reader/writer pair, typically a
// browser extension talking over stdin/stdout.
type Host struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	log        zerolog.Logger
}

// NewHost builds a host around a dispatcher and a transport pair.
func NewHost(dispatcher *Dispatcher, in io.Reader, out io.Writer, log zerolog.Logger) *Host {
	return &Host{dispatcher: dispatcher, in: in, out: out, log: log}
}

// Run serves until the input stream closes. Cancellation is observed
// between frames only; a read blocked on an open stream returns when the
// peer closes it, which is how native messaging hosts are shut down. A
// request that fails to parse gets an error response; only
// transport-level failures end the loop.
func (h *Host) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := ReadFrame(h.in)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				h.log.Info().Msg("peer closed the stream")
				return nil
			}
			return fmt.Errorf("failed to read request frame: %w", err)
		}

		var req Request
		var resp Response
		if err = json.Unmarshal(payload, &req); err != nil {
			resp = Response{"ok": false, "error": "malformed request"}
		} else {
			resp = h.dispatcher.Handle(ctx, req)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		if err = WriteFrame(h.out, out); err != nil {
			return fmt.Errorf("failed to write response frame: %w", err)
		}
	}
}
