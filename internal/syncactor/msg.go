package syncactor

import "github.com/openmined/driftlink/internal/rpcproto"

// MsgKind tags a SyncFiles.Msg variant, the unit of work SyncActor sends to
// AgentRpcActor.
type MsgKind int

const (
	MsgComplete MsgKind = iota
	MsgRemoteScan
	MsgRpc
	MsgStartFile
	MsgSendChunk
	MsgIncrementFileTotal
)

// Msg is a single SyncFiles.Msg. Only the fields relevant to Kind are
// populated.
type Msg struct {
	Kind MsgKind

	ScanPaths []string      // RemoteScan
	Rpc       rpcproto.Rpc  // RpcMsg
	Path      string        // StartFile

	LocalSrc   string // SendChunkMsg
	RemoteDest string
	SubPath    string
	ChunkIndex int
	ChunkCount int

	Total   int    // IncrementFileTotal
	Example string
}

// CompleteMsg is the barrier: all prior work done, ack when the remote has
// applied everything.
func CompleteMsg() Msg { return Msg{Kind: MsgComplete} }

// RemoteScanMsg requests the agent enumerate the given remote roots.
func RemoteScanMsg(paths []string) Msg { return Msg{Kind: MsgRemoteScan, ScanPaths: paths} }

// RpcMsgOf wraps a single metadata/small-operation Rpc.
func RpcMsgOf(rpc rpcproto.Rpc) Msg { return Msg{Kind: MsgRpc, Rpc: rpc} }

// StartFileMsg is a diagnostic marker that a file's chunk stream begins.
func StartFileMsg(path string) Msg { return Msg{Kind: MsgStartFile, Path: path} }

// SendChunkMsgOf requests chunkIndex of subPath be streamed from
// localSrc/subPath to remoteDest/subPath, resolved to a WriteChunk Rpc at
// send time by re-reading the file.
func SendChunkMsgOf(localSrc, remoteDest, subPath string, chunkIndex, chunkCount int) Msg {
	return Msg{
		Kind: MsgSendChunk, LocalSrc: localSrc, RemoteDest: remoteDest,
		SubPath: subPath, ChunkIndex: chunkIndex, ChunkCount: chunkCount,
	}
}

// IncrementFileTotalMsg carries progress metadata.
func IncrementFileTotalMsg(total int, example string) Msg {
	return Msg{Kind: MsgIncrementFileTotal, Total: total, Example: example}
}

// IsRemoteMsg reports whether m is a RemoteMsg: one AgentRpcActor buffers
// and replays across reconnects (Complete, RpcMsg, SendChunkMsg,
// RemoteScan), as opposed to a purely local diagnostic/progress notice
// (StartFile, IncrementFileTotal) that never touches the wire or the
// replay buffer.
func (m Msg) IsRemoteMsg() bool {
	switch m.Kind {
	case MsgComplete, MsgRpc, MsgSendChunk, MsgRemoteScan:
		return true
	default:
		return false
	}
}
