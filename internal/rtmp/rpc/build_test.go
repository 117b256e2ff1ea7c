package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrove/rtmp-publish/internal/rtmp/amf"
)

func decodeCommand(t *testing.T, payload []byte) []interface{} {
	t.Helper()
	vals, err := amf.DecodeAll(payload)
	require.NoError(t, err)
	return vals
}

func TestBuildConnectCommandObject(t *testing.T) {
	msg, err := BuildConnect(1, ConnectParams{App: "live", TcURL: "rtmp://host/live"})
	require.NoError(t, err)
	assert.EqualValues(t, commandChunkStreamID, msg.CSID)

	vals := decodeCommand(t, msg.Payload)
	require.Len(t, vals, 3)
	assert.Equal(t, "connect", vals[0])

	cmdObj, ok := vals[2].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "nonprivate", cmdObj["type"])
	assert.Equal(t, "FMLE/3.0 (compatible; librtmp)", cmdObj["flashVer"])
	assert.Equal(t, "live", cmdObj["app"])
	assert.Equal(t, "rtmp://host/live", cmdObj["tcUrl"])
}

func TestBuildConnectHonorsExplicitFlashVer(t *testing.T) {
	msg, err := BuildConnect(1, ConnectParams{App: "live", TcURL: "rtmp://host/live", FlashVer: "FMLE/3.0 (compatible; custom)"})
	require.NoError(t, err)
	vals := decodeCommand(t, msg.Payload)
	cmdObj := vals[2].(map[string]interface{})
	assert.Equal(t, "FMLE/3.0 (compatible; custom)", cmdObj["flashVer"])
}

func TestBuildConnectRequiresAppAndTcURL(t *testing.T) {
	_, err := BuildConnect(1, ConnectParams{})
	assert.Error(t, err)
}

func TestBuildPublishUsesPublishChunkStreamID(t *testing.T) {
	msg, err := BuildPublish(3, "streamkey", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, msg.CSID)
	assert.EqualValues(t, 1, msg.MessageStreamID)

	vals := decodeCommand(t, msg.Payload)
	require.Len(t, vals, 5)
	assert.Equal(t, "publish", vals[0])
	assert.Equal(t, "streamkey", vals[3])
	assert.Equal(t, "live", vals[4])
}

func TestOtherCommandsStayOnCommandChunkStreamID(t *testing.T) {
	releaseMsg, err := BuildReleaseStream(1, "key")
	require.NoError(t, err)
	assert.EqualValues(t, commandChunkStreamID, releaseMsg.CSID)

	fcMsg, err := BuildFCPublish(1, "key")
	require.NoError(t, err)
	assert.EqualValues(t, commandChunkStreamID, fcMsg.CSID)

	createMsg, err := BuildCreateStream(1)
	require.NoError(t, err)
	assert.EqualValues(t, commandChunkStreamID, createMsg.CSID)

	deleteMsg, err := BuildDeleteStream(1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, commandChunkStreamID, deleteMsg.CSID)
}
