package integration

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	rtmp "github.com/ashgrove/rtmp-publish"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/amf"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/chunk"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/handshake"
)

// quickstartServerResult carries what the fake server actually observed, so
// the test can assert against it after Connect/send calls return.
type quickstartServerResult struct {
	sawMetadata    bool
	sawAudioConfig bool
	sawAudioFrame  bool
	sawVideoAVCC   bool
	sawVideoFrame  bool
}

// runQuickstartServer performs the handshake, answers connect/createStream,
// then classifies every subsequent message by type until it has seen one of
// each kind the quickstart scenario sends, or the connection closes.
func runQuickstartServer(conn net.Conn, streamMsgID uint32) (*quickstartServerResult, error) {
	if err := handshake.ServerHandshake(conn); err != nil {
		return nil, fmt.Errorf("server handshake: %w", err)
	}
	reader := chunk.NewReader(conn, 128)
	writer := chunk.NewWriter(conn, 128)
	result := &quickstartServerResult{}

	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			return result, err
		}
		switch msg.TypeID {
		case 20: // AMF0 command
			vals, err := amf.DecodeAll(msg.Payload)
			if err != nil {
				return result, fmt.Errorf("decode command: %w", err)
			}
			if len(vals) < 2 {
				continue
			}
			name, _ := vals[0].(string)
			txID, _ := vals[1].(float64)
			switch name {
			case "connect":
				payload, err := amf.EncodeAll("_result", txID, map[string]interface{}{}, map[string]interface{}{
					"level": "status",
					"code":  "NetConnection.Connect.Success",
				})
				if err != nil {
					return result, err
				}
				if err := writer.WriteMessage(&chunk.Message{CSID: 3, TypeID: 20, Payload: payload}); err != nil {
					return result, err
				}
			case "createStream":
				payload, err := amf.EncodeAll("_result", txID, nil, float64(streamMsgID))
				if err != nil {
					return result, err
				}
				if err := writer.WriteMessage(&chunk.Message{CSID: 3, TypeID: 20, Payload: payload}); err != nil {
					return result, err
				}
			}
		case 18: // AMF0 data (onMetaData)
			result.sawMetadata = true
		case 8: // audio
			if len(msg.Payload) < 2 {
				continue
			}
			if msg.Payload[1] == 0 {
				result.sawAudioConfig = true
			} else {
				result.sawAudioFrame = true
			}
		case 9: // video
			if len(msg.Payload) < 2 {
				continue
			}
			if msg.Payload[1] == 0 {
				result.sawVideoAVCC = true
			} else {
				result.sawVideoFrame = true
			}
		}

		if result.sawMetadata && result.sawAudioConfig && result.sawAudioFrame &&
			result.sawVideoAVCC && result.sawVideoFrame {
			return result, nil
		}
	}
}

// TestQuickstartScenario exercises the scenario a real publishing client
// runs: connect through the command dialog, then send an onMetaData
// announcement followed by an AAC sequence header, an AAC frame, an AVC
// sequence header (avcC), and an AVC access unit containing an IDR slice.
// The fake server classifies each inbound message by its RTMP type id and
// tag-header byte and the test asserts all five were observed.
func TestQuickstartScenario(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	const allocatedStreamMsgID = 1
	resultCh := make(chan *quickstartServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := runQuickstartServer(serverConn, allocatedStreamMsgID)
		resultCh <- res
		errCh <- err
	}()

	client, err := rtmp.New("rtmp://example.invalid/live/quickstart", rtmp.Options{
		Dialer: &pipeDialer{conn: clientConn},
	})
	if err != nil {
		t.Fatalf("rtmp.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	metadata := amf.OrderedObject{
		{Key: "duration", Value: 0.0},
		{Key: "width", Value: 1280.0},
		{Key: "height", Value: 720.0},
		{Key: "videocodecid", Value: "avc1"},
		{Key: "audiocodecid", Value: "mp4a"},
	}
	if _, err := client.SendMetadata(metadata); err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}

	// AAC-LC, 44.1kHz, stereo AudioSpecificConfig.
	asc := []byte{0x12, 0x10}
	if _, err := client.SendAudioSpecificConfig(0, asc); err != nil {
		t.Fatalf("SendAudioSpecificConfig: %v", err)
	}
	if _, err := client.SendAudioData(23, []byte{0xAB, 0xCD, 0xEF}); err != nil {
		t.Fatalf("SendAudioData: %v", err)
	}

	avcC := []byte{0x01, 0x64, 0x00, 0x1f, 0xff, 0xe1, 0x00, 0x00, 0x01, 0x00, 0x00}
	if _, err := client.SendVideoAVCC(0, avcC); err != nil {
		t.Fatalf("SendVideoAVCC: %v", err)
	}

	// One AVCC NALU: 4-byte length prefix (1) + an IDR slice header byte
	// (forbidden=0, nal_ref_idc=3, nal_unit_type=5).
	accessUnit := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	if _, err := client.SendVideoFrame(33, accessUnit, 0); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}

	select {
	case res := <-resultCh:
		err := <-errCh
		if err != nil {
			t.Fatalf("fake server: %v", err)
		}
		if !res.sawMetadata {
			t.Error("server never saw onMetaData")
		}
		if !res.sawAudioConfig {
			t.Error("server never saw AAC AudioSpecificConfig")
		}
		if !res.sawAudioFrame {
			t.Error("server never saw an AAC frame")
		}
		if !res.sawVideoAVCC {
			t.Error("server never saw the AVC sequence header")
		}
		if !res.sawVideoFrame {
			t.Error("server never saw an AVC access unit")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("fake server did not observe all expected media within the deadline")
	}
}
