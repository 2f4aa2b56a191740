// Package transport implements the data-plane collaborator described in the
// spec's §6: length-prefixed binary messages delivered in order per
// (source, destination) pair, at-least-once, with duplicate suppression at
// the framing layer. internal/protocol builds the coherence FSM on top of
// the Transport interface this package defines; cmd/manager and cmd/node
// wire up its one concrete implementation, a persistent-TCP framer.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MsgType enumerates the coherence-protocol wire messages from spec §4.3
// plus the barrier/lock messages from §4.5. Values are part of the wire
// format and must never be renumbered once a cluster has shipped.
type MsgType uint8

const (
	MsgReadReq MsgType = iota + 1
	MsgWriteReq
	MsgForwardRead
	MsgForwardWrite
	MsgPageData
	MsgInvalidate
	MsgInvAck
	MsgAck
	MsgGone
	MsgBarrierEnter
	MsgBarrierRelease
	MsgLockReq
	MsgLockGrant
	MsgLockRel
)

func (m MsgType) String() string {
	switch m {
	case MsgReadReq:
		return "ReadReq"
	case MsgWriteReq:
		return "WriteReq"
	case MsgForwardRead:
		return "ForwardRead"
	case MsgForwardWrite:
		return "ForwardWrite"
	case MsgPageData:
		return "PageData"
	case MsgInvalidate:
		return "Invalidate"
	case MsgInvAck:
		return "InvAck"
	case MsgAck:
		return "Ack"
	case MsgGone:
		return "Gone"
	case MsgBarrierEnter:
		return "BarrierEnter"
	case MsgBarrierRelease:
		return "BarrierRelease"
	case MsgLockReq:
		return "LockReq"
	case MsgLockGrant:
		return "LockGrant"
	case MsgLockRel:
		return "LockRel"
	default:
		return fmt.Sprintf("MsgType(%d)", m)
	}
}

// GrantedState names the local page state a PageData message installs the
// recipient into. Its wire values are its own (GrantShared is 0,
// GrantModified is 1), not internal/pagetable.State's; internal/protocol
// maps one onto the other when it applies PageData.
type GrantedState uint8

const (
	GrantShared GrantedState = iota
	GrantModified
)

// Message is the fixed wire header from spec §6 — {msg_type, page_index,
// requester, granted_state} — plus the variable-length Payload carried by
// PageData (the page bytes) and used informally by a few control messages
// (LockReq/LockGrant/LockRel carry the lock id in Payload rather than
// PageIndex, to avoid growing the header for rarely-used fields;
// BarrierEnter/BarrierRelease carry no payload).
type Message struct {
	Type         MsgType
	PageIndex    uint64
	Requester    uint32
	GrantedState GrantedState
	Payload      []byte
}

// headerSize is the encoded size, in bytes, of every field in Message
// except Payload: 1 (type) + 8 (page index) + 4 (requester) + 1 (granted
// state) = 14.
const headerSize = 1 + 8 + 4 + 1

// Encode serializes m into the little-endian wire format fixed by spec §6.
func (m Message) Encode() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.LittleEndian.PutUint64(buf[1:9], m.PageIndex)
	binary.LittleEndian.PutUint32(buf[9:13], m.Requester)
	buf[13] = byte(m.GrantedState)
	copy(buf[headerSize:], m.Payload)
	return buf
}

// Decode parses a Message from its wire encoding. It returns an error if b
// is shorter than the fixed header.
func Decode(b []byte) (Message, error) {
	if len(b) < headerSize {
		return Message{}, fmt.Errorf("transport: short message: %d bytes, want at least %d", len(b), headerSize)
	}
	m := Message{
		Type:         MsgType(b[0]),
		PageIndex:    binary.LittleEndian.Uint64(b[1:9]),
		Requester:    binary.LittleEndian.Uint32(b[9:13]),
		GrantedState: GrantedState(b[13]),
	}
	if len(b) > headerSize {
		m.Payload = bytes.Clone(b[headerSize:])
	}
	return m, nil
}
