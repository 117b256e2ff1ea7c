// Package rpc builds and routes the AMF0 command messages that make up the
// publish command dialog (connect, releaseStream, FCPublish, createStream,
// publish, deleteStream) and the _result/_error/onStatus responses that
// answer them.
package rpc

// Request builders for the publishing client's command dialog. Each mirrors
// the fixed AMF0 field layout real FMLE-style encoders send and returns a
// *chunk.Message with CSID left at the package's conventional command
// chunk stream.

import (
	"fmt"

	"github.com/ashgrove/rtmp-publish/internal/errors"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/amf"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/chunk"
)

// commandMessageAMF0TypeID is the RTMP message type id for an AMF0-encoded
// command message (connect, createStream, publish, _result, onStatus, ...).
const commandMessageAMF0TypeID = 20

// ConnectParams carries the fields the "connect" command object may set.
// App and TcURL are required; the rest have conventional defaults matching
// common publishing clients.
type ConnectParams struct {
	App            string
	TcURL          string
	FlashVer       string // defaults to "FMLE/3.0 (compatible; librtmp)"
	SwfURL         string
	ObjectEncoding float64 // always 0 (AMF0) for this client
}

// commandChunkStreamID is the chunk stream used for most of the command
// dialog (protocol control reserves CSID 2). "publish" is the one exception:
// it goes out on publishChunkStreamID instead, see BuildPublish.
const commandChunkStreamID = 3

// publishChunkStreamID is where the "publish" command itself is sent, not
// commandChunkStreamID, as an interoperability workaround some servers
// require (it shares the media csid the publish layer subsequently uses).
const publishChunkStreamID = 4

func newCommandMessage(payload []byte) *chunk.Message {
	return &chunk.Message{
		CSID:            commandChunkStreamID,
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: 0,
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}
}

// BuildConnect builds the initial "connect" command:
// ["connect", transactionID, commandObject]
func BuildConnect(transactionID float64, p ConnectParams) (*chunk.Message, error) {
	if p.App == "" || p.TcURL == "" {
		return nil, errors.NewArgumentError("rpc.build_connect", fmt.Errorf("app and tcUrl are required"))
	}
	flashVer := p.FlashVer
	if flashVer == "" {
		flashVer = "FMLE/3.0 (compatible; librtmp)"
	}
	cmdObj := map[string]interface{}{
		"app":            p.App,
		"type":           "nonprivate",
		"flashVer":       flashVer,
		"tcUrl":          p.TcURL,
		"fpad":           false,
		"capabilities":   15.0,
		"audioCodecs":    4071.0,
		"videoCodecs":    252.0,
		"videoFunction":  1.0,
		"objectEncoding": 0.0,
	}
	if p.SwfURL != "" {
		cmdObj["swfUrl"] = p.SwfURL
	}
	payload, err := amf.EncodeAll("connect", transactionID, cmdObj)
	if err != nil {
		return nil, errors.NewProtocolError("rpc.build_connect.encode", err)
	}
	return newCommandMessage(payload), nil
}

// BuildReleaseStream builds the FMLE-style "releaseStream" command:
// ["releaseStream", transactionID, null, streamKey]
func BuildReleaseStream(transactionID float64, streamKey string) (*chunk.Message, error) {
	payload, err := amf.EncodeAll("releaseStream", transactionID, nil, streamKey)
	if err != nil {
		return nil, errors.NewProtocolError("rpc.build_release_stream.encode", err)
	}
	return newCommandMessage(payload), nil
}

// BuildFCPublish builds the FMLE-style "FCPublish" command:
// ["FCPublish", transactionID, null, streamKey]
func BuildFCPublish(transactionID float64, streamKey string) (*chunk.Message, error) {
	payload, err := amf.EncodeAll("FCPublish", transactionID, nil, streamKey)
	if err != nil {
		return nil, errors.NewProtocolError("rpc.build_fcpublish.encode", err)
	}
	return newCommandMessage(payload), nil
}

// BuildCreateStream builds the "createStream" command:
// ["createStream", transactionID, null]
func BuildCreateStream(transactionID float64) (*chunk.Message, error) {
	payload, err := amf.EncodeAll("createStream", transactionID, nil)
	if err != nil {
		return nil, errors.NewProtocolError("rpc.build_create_stream.encode", err)
	}
	return newCommandMessage(payload), nil
}

// BuildPublish builds the "publish" command sent on the stream message ID
// allocated by createStream's _result response:
// ["publish", transactionID, null, streamKey, "live"]
func BuildPublish(transactionID float64, streamKey string, streamMsgID uint32) (*chunk.Message, error) {
	payload, err := amf.EncodeAll("publish", transactionID, nil, streamKey, "live")
	if err != nil {
		return nil, errors.NewProtocolError("rpc.build_publish.encode", err)
	}
	msg := newCommandMessage(payload)
	msg.CSID = publishChunkStreamID
	msg.MessageStreamID = streamMsgID
	return msg, nil
}

// BuildDeleteStream builds the "deleteStream" command used during a graceful
// client-initiated shutdown:
// ["deleteStream", transactionID, null, streamMsgID]
func BuildDeleteStream(transactionID float64, streamMsgID uint32) (*chunk.Message, error) {
	payload, err := amf.EncodeAll("deleteStream", transactionID, nil, float64(streamMsgID))
	if err != nil {
		return nil, errors.NewProtocolError("rpc.build_delete_stream.encode", err)
	}
	return newCommandMessage(payload), nil
}
