// Package rtmp is the public entry point for publishing pre-encoded AAC/AVC
// media to an RTMP(S) destination. Client composes the connection lifecycle
// (internal/rtmp/session) with the media-sending surface
// (internal/rtmp/publish) behind one handle so callers outside this module
// never need to import either internal package directly.
package rtmp

import (
	"context"

	"github.com/ashgrove/rtmp-publish/internal/rtmp/amf"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/publish"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/session"
)

// Re-exported so callers can inspect connection state and disconnect causes
// without an import of internal/rtmp/session.
type (
	State            = session.State
	DisconnectReason = session.DisconnectReason
	Target           = session.Target
)

// Options configures a Client's transport and handshake parameters.
type Options = session.Options

// Client publishes metadata, AAC audio, and AVC video to one RTMP(S)
// destination. The zero value is not usable; construct with New.
type Client struct {
	sess *session.Session
	pub  *publish.Publisher
}

// New parses rawURL (rtmp:// or rtmps://) and prepares a Client. Connect
// must be called before any Send method or before Disconnect.
func New(rawURL string, opts Options) (*Client, error) {
	sess, err := session.New(rawURL, opts)
	if err != nil {
		return nil, err
	}
	return &Client{sess: sess, pub: publish.New(sess)}, nil
}

// Connect runs DNS resolution, TCP/TLS dial, RTMP handshake, and the
// connect/createStream/publish command dialog, blocking until the session
// reaches StateReady or ctx/the configured dial timeout expires.
func (c *Client) Connect(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Disconnect tears the connection down cleanly, notifying the peer with an
// FCUnpublish/closeStream dialog when the session is Ready.
func (c *Client) Disconnect() error {
	return c.sess.Disconnect()
}

// State reports the connection's current FSM state.
func (c *Client) State() State {
	return c.sess.State()
}

// LastReason reports why the connection last left the Ready state, or
// ReasonUnknown if it never left (or never reached) Ready.
func (c *Client) LastReason() DisconnectReason {
	return c.sess.LastReason()
}

// Target returns the parsed destination (host, port, app, stream key).
func (c *Client) Target() *Target {
	return c.sess.Target()
}

// ID returns the session's correlation id, matching the id attached to its
// log lines.
func (c *Client) ID() string {
	return c.sess.ID()
}

// SendMetadata sends an onMetaData message built from an insertion-ordered
// property list. The returned int is the destination channel's pre-insert
// send queue depth, for callers that want to watch for backpressure; a full
// queue returns a CapacityError instead of blocking.
func (c *Client) SendMetadata(props amf.OrderedObject) (int, error) {
	return c.pub.SendMetadata(props)
}

// SendPackedMetadata sends an already AMF0-encoded onMetaData payload.
func (c *Client) SendPackedMetadata(payload []byte) (int, error) {
	return c.pub.SendPackedMetadata(payload)
}

// SendAudioSpecificConfig sends the AAC sequence header for the given
// AudioSpecificConfig bytes.
func (c *Client) SendAudioSpecificConfig(timestamp uint32, asc []byte) (int, error) {
	return c.pub.SendAudioSpecificConfig(timestamp, asc)
}

// SendAudioData sends one raw AAC access unit.
func (c *Client) SendAudioData(timestamp uint32, frame []byte) (int, error) {
	return c.pub.SendAudioData(timestamp, frame)
}

// SendVideoAVCC sends the AVCDecoderConfigurationRecord (avcC box).
func (c *Client) SendVideoAVCC(timestamp uint32, avcC []byte) (int, error) {
	return c.pub.SendVideoAVCC(timestamp, avcC)
}

// SendVideoFrame sends one AVCC-framed access unit, detecting IDR slices to
// mark the frame type automatically.
func (c *Client) SendVideoFrame(timestamp uint32, accessUnit []byte, compositionTimeOffset int32) (int, error) {
	return c.pub.SendVideoFrame(timestamp, accessUnit, compositionTimeOffset)
}
