// Package rpcproto defines the wire vocabulary exchanged with the agent
// child process and the framed msgpack codec used to carry it over the
// agent's stdin/stdout pipe.
package rpcproto

import "github.com/openmined/driftlink/internal/vfs"

// RpcType tags a single outbound Rpc.
type RpcType uint8

const (
	RpcFullScan RpcType = iota
	RpcMkDir
	RpcRmDir
	RpcDelete
	RpcSetSymlink
	RpcSetPerm
	RpcPrepareFile
	RpcWriteChunk
	RpcComplete
)

func (t RpcType) String() string {
	switch t {
	case RpcFullScan:
		return "FullScan"
	case RpcMkDir:
		return "MkDir"
	case RpcRmDir:
		return "RmDir"
	case RpcDelete:
		return "Delete"
	case RpcSetSymlink:
		return "SetSymlink"
	case RpcSetPerm:
		return "SetPerm"
	case RpcPrepareFile:
		return "PrepareFile"
	case RpcWriteChunk:
		return "WriteChunk"
	case RpcComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Rpc is a single request sent to the agent. Only the fields relevant to
// Type are populated; see the RPC vocabulary in the external-interfaces
// section this mirrors.
type Rpc struct {
	Type RpcType `msgpack:"typ"`

	Path string `msgpack:"path,omitempty"`
	Perm uint32 `msgpack:"perm,omitempty"`

	Target string `msgpack:"target,omitempty"` // SetSymlink

	TotalBlocks int `msgpack:"totalBlocks,omitempty"` // PrepareFile

	Dest        string `msgpack:"dest,omitempty"`    // WriteChunk: remote root
	SubPath     string `msgpack:"subPath,omitempty"` // WriteChunk
	OffsetBytes int64  `msgpack:"offset,omitempty"`
	Chunk       []byte `msgpack:"chunk,omitempty"`

	Paths []string `msgpack:"paths,omitempty"` // FullScan
}

// FullScanRpc requests the agent enumerate the given remote roots.
func FullScanRpc(paths []string) Rpc {
	return Rpc{Type: RpcFullScan, Paths: paths}
}

// MkDirRpc requests creation of a remote directory.
func MkDirRpc(path string, perm uint32) Rpc {
	return Rpc{Type: RpcMkDir, Path: path, Perm: perm}
}

// RmDirRpc requests removal of a remote directory tree.
func RmDirRpc(path string) Rpc {
	return Rpc{Type: RpcRmDir, Path: path}
}

// DeleteRpc requests removal of a remote file or symlink.
func DeleteRpc(path string) Rpc {
	return Rpc{Type: RpcDelete, Path: path}
}

// SetSymlinkRpc requests the remote path become a symlink to target.
func SetSymlinkRpc(path, target string) Rpc {
	return Rpc{Type: RpcSetSymlink, Path: path, Target: target}
}

// SetPermRpc requests a permission change on a remote path.
func SetPermRpc(path string, perm uint32) Rpc {
	return Rpc{Type: RpcSetPerm, Path: path, Perm: perm}
}

// PrepareFileRpc announces an upcoming chunk stream for a remote file.
func PrepareFileRpc(path string, perm uint32, totalBlocks int) Rpc {
	return Rpc{Type: RpcPrepareFile, Path: path, Perm: perm, TotalBlocks: totalBlocks}
}

// WriteChunkRpc carries one block of file content at an explicit byte offset.
func WriteChunkRpc(dest, subPath string, offsetBytes int64, chunk []byte) Rpc {
	return Rpc{Type: RpcWriteChunk, Dest: dest, SubPath: subPath, OffsetBytes: offsetBytes, Chunk: chunk}
}

// CompleteRpc is the barrier marking "all prior work done".
func CompleteRpc() Rpc {
	return Rpc{Type: RpcComplete}
}

// ResponseType tags an inbound Response.
type ResponseType uint8

const (
	RespAck ResponseType = iota
	RespScanned
	RespOther
)

// Response is a single message read back from the agent. Other carries any
// response the codec didn't specifically recognize, forwarded as-is to
// SyncActor per the external-interfaces contract.
type Response struct {
	Type ResponseType `msgpack:"typ"`

	Base    string        `msgpack:"base,omitempty"`    // Scanned
	SubPath string        `msgpack:"subPath,omitempty"` // Scanned
	Sig     vfs.Signature `msgpack:"sig,omitempty"`      // Scanned
	Index   int           `msgpack:"index,omitempty"`    // Scanned

	OtherKind string         `msgpack:"otherKind,omitempty"`
	OtherData map[string]any `msgpack:"otherData,omitempty"`
}

// ScannedResponse builds a Scanned response as the agent launcher/codec
// would after demuxing a remote scan entry.
func ScannedResponse(base, subPath string, sig vfs.Signature, index int) Response {
	return Response{Type: RespScanned, Base: base, SubPath: subPath, Sig: sig, Index: index}
}

// AckResponse builds an Ack response.
func AckResponse() Response {
	return Response{Type: RespAck}
}
