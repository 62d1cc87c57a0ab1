package rpcproto

import (
	"bytes"
	"testing"

	"github.com/openmined/driftlink/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestEncoder_FramesWithMagicAndVersion(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteRpc(MkDirRpc("work/d", 0o755)))

	header := buf.Bytes()[:headerLen]
	assert.Equal(t, magic0, header[4])
	assert.Equal(t, magic1, header[5])
	assert.Equal(t, version, header[6])
}

func TestDecoder_ReadsResponsesInOrder(t *testing.T) {
	var buf bytes.Buffer
	writeResponse(t, &buf, ScannedResponse("work", "a.txt", vfs.FileSignature(0o644, 3, []vfs.BlockHash{{1}}), 0))
	writeResponse(t, &buf, AckResponse())

	dec := NewDecoder(&buf)

	r1, err := dec.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, RespScanned, r1.Type)
	assert.Equal(t, "work", r1.Base)
	assert.Equal(t, "a.txt", r1.SubPath)
	assert.Equal(t, vfs.KindFile, r1.Sig.Kind)

	r2, err := dec.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, RespAck, r2.Type)

	_, err = dec.ReadResponse()
	assert.Error(t, err)
}

func TestDecoder_RejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 3, 'X', 'X', version, 1, 2, 3})
	dec := NewDecoder(buf)
	_, err := dec.ReadResponse()
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestDecoder_RejectsUnsupportedVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 3, magic0, magic1, 99, 1, 2, 3})
	dec := NewDecoder(buf)
	_, err := dec.ReadResponse()
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

// writeResponse frames a Response the way the agent side would; Encoder
// only knows how to write Rpc values since it speaks the request side of
// the protocol.
func writeResponse(t *testing.T, w *bytes.Buffer, resp Response) {
	t.Helper()
	payload, err := msgpack.Marshal(&resp)
	require.NoError(t, err)

	header := make([]byte, headerLen)
	frameLen := uint32(len(header) - 4 + len(payload))
	header[0] = byte(frameLen >> 24)
	header[1] = byte(frameLen >> 16)
	header[2] = byte(frameLen >> 8)
	header[3] = byte(frameLen)
	header[4], header[5], header[6] = magic0, magic1, version

	w.Write(header)
	w.Write(payload)
}
