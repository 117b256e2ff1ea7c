package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// recordKind identifies which Publisher method a frame record should be
// routed to. The on-disk/stdin format is a simple fixed-header framing this
// client defines itself (there is no existing container format for
// "pre-encoded, already-muxed AAC/AVC access units plus a metadata record"
// short of writing a full FLV demuxer, which is out of scope for a
// publish-only client): each record is
//
//	[1-byte kind][4-byte big-endian timestamp][4-byte big-endian length][payload]
type recordKind uint8

const (
	recordMetadata         recordKind = 0
	recordAudioSpecConfig  recordKind = 1
	recordAudioFrame       recordKind = 2
	recordVideoAVCC        recordKind = 3
	recordVideoFrame       recordKind = 4
)

// frameRecord is one decoded unit from the input stream.
type frameRecord struct {
	Kind      recordKind
	Timestamp uint32
	Payload   []byte
}

// frameReader reads frameRecords sequentially until EOF.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record, or io.EOF once the stream is exhausted.
func (fr *frameReader) Next() (*frameRecord, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("frame reader: truncated record header: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	kind := recordKind(hdr[0])
	ts := binary.BigEndian.Uint32(hdr[1:5])
	length := binary.BigEndian.Uint32(hdr[5:9])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, fmt.Errorf("frame reader: truncated payload (kind=%d, len=%d): %w", kind, length, err)
		}
	}
	return &frameRecord{Kind: kind, Timestamp: ts, Payload: payload}, nil
}
