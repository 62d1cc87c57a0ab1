package rpcproto

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Framing: each message is [4-byte BE length][magic 'D','L'][version][payload].
// Adapted from the teacher's websocket envelope (internal/wsproto/codec.go)
// to a length-prefixed stream frame, since the agent channel is a raw pipe
// rather than discrete websocket frames.
const (
	magic0  = byte('D')
	magic1  = byte('L')
	version = byte(1)

	headerLen = 4 + 2 + 1
)

var ErrBadEnvelope = errors.New("rpcproto: bad frame envelope")

// Encoder writes framed Rpc messages to the agent's stdin.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteRpc marshals and frames a single Rpc, writing it in one call.
func (e *Encoder) WriteRpc(rpc Rpc) error {
	payload, err := msgpack.Marshal(&rpc)
	if err != nil {
		return fmt.Errorf("marshal rpc: %w", err)
	}

	frame := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(headerLen-4+len(payload)))
	frame[4], frame[5], frame[6] = magic0, magic1, version
	copy(frame[headerLen:], payload)

	_, err = e.w.Write(frame)
	return err
}

// Decoder reads framed Responses from the agent's stdout.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// ReadResponse blocks until one full framed Response has been read, or
// returns the underlying read/decode error. Any error here is terminal for
// the reader loop calling it (per the stdout-demux reader-thread contract).
func (d *Decoder) ReadResponse() (Response, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return Response{}, err
	}

	frameLen := binary.BigEndian.Uint32(header[0:4])
	if header[4] != magic0 || header[5] != magic1 {
		return Response{}, ErrBadEnvelope
	}
	if header[6] != version {
		return Response{}, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, header[6])
	}

	payloadLen := int(frameLen) - (headerLen - 4)
	if payloadLen < 0 {
		return Response{}, ErrBadEnvelope
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Response{}, err
	}

	var resp Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}
