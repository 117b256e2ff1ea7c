package chunk

// Message represents a fully reassembled RTMP message (post-dechunking).
// Field naming follows the chunking contract; exported so callers across
// package boundaries (mux, rpc, publish, integration tests) can assert on
// or build values directly.
type Message struct {
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	TypeID          uint8
	MessageStreamID uint32
	Payload         []byte
}
