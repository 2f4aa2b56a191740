package syncprim

import "encoding/binary"

// encodeID packs a lock id into the 4-byte Payload convention
// transport.Message documents for rarely-used fields (see
// internal/transport/message.go's Message doc comment).
func encodeID(id uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, id)
	return buf
}

// decodeID is the inverse of encodeID. A short or missing payload decodes
// to id 0 rather than panicking — callers treat id 0 as an ordinary lock
// number, so a malformed message is indistinguishable from a request for
// lock 0, which is an acceptable failure mode for a control message this
// small.
func decodeID(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(payload)
}
