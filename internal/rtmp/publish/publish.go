// Package publish implements the media-sending half of the publishing
// client's public surface: metadata, AAC audio, and AVC video, each mapped
// onto the RTMP message types and tag header byte layouts the protocol
// expects. CSID assignments follow the publisher entry-point table exactly:
// metadata and video share csid 4 (and the publish command itself is sent
// there too, as an interoperability workaround), audio uses csid 3.
package publish

import (
	"github.com/ashgrove/rtmp-publish/internal/errors"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/amf"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/media"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/session"
)

const (
	csidAudio    = 3
	csidVideo    = 4
	csidMetadata = 4

	typeIDAudio = 8
	typeIDVideo = 9
	typeIDData  = 18 // AMF0 data message (onMetaData)
)

// Publisher sends metadata and media for one Ready session. Every send
// method requires session.StateReady; calling any of them before the
// session reaches Ready (or after it leaves Ready) fails with a StateError
// rather than silently queuing or blocking. Each send method returns the
// pre-insert depth of the destination channel's send queue so callers can
// observe backpressure; a full queue returns a CapacityError instead of
// blocking.
type Publisher struct {
	sess *session.Session
}

// New wraps sess for media sending. sess must already be connected (or about
// to be); sends are rejected until it reaches session.StateReady.
func New(sess *session.Session) *Publisher {
	return &Publisher{sess: sess}
}

func (p *Publisher) requireReady(op string) error {
	if p.sess.State() != session.StateReady {
		return errors.NewStateError(op, errNotReady)
	}
	return nil
}

var errNotReady = stateNotReadyError{}

type stateNotReadyError struct{}

func (stateNotReadyError) Error() string { return "session is not in the Ready state" }

func (p *Publisher) streamMsgID() uint32 {
	// The session owns the stream message id allocated by createStream; media
	// messages must be sent on it rather than message stream id 0.
	return p.sess.StreamMessageID()
}

// SendMetadata sends an onMetaData message built from an insertion-ordered
// property list, preserving caller-chosen key order (most players expect
// duration/width/height/framerate/videocodecid/audiocodecid in a
// conventional order even though AMF0 does not require it).
func (p *Publisher) SendMetadata(props amf.OrderedObject) (int, error) {
	if err := p.requireReady("publish.send_metadata"); err != nil {
		return 0, err
	}
	payload, err := amf.EncodeAll("onMetaData", props)
	if err != nil {
		return 0, errors.NewProtocolError("publish.send_metadata.encode", err)
	}
	return p.sendMessage(csidMetadata, typeIDData, 0, payload)
}

// SendPackedMetadata sends an already AMF0-encoded onMetaData payload
// verbatim, for callers that assembled (or captured from elsewhere) the
// wire bytes directly instead of building an amf.OrderedObject.
func (p *Publisher) SendPackedMetadata(payload []byte) (int, error) {
	if err := p.requireReady("publish.send_packed_metadata"); err != nil {
		return 0, err
	}
	return p.sendMessage(csidMetadata, typeIDData, 0, payload)
}

// SendAudioSpecificConfig sends the AAC sequence header (AudioSpecificConfig)
// that must precede any raw AAC frame for a given encoder configuration. The
// publish layer caches the resulting tag header byte on the mux so future
// calls to SendAudioData need not re-derive it.
func (p *Publisher) SendAudioSpecificConfig(timestamp uint32, asc []byte) (int, error) {
	if err := p.requireReady("publish.send_audio_specific_config"); err != nil {
		return 0, err
	}
	hdr, err := media.BuildAudioSpecificConfigHeader(asc)
	if err != nil {
		return 0, err
	}
	p.sess.Mux().SetCachedAudioHeader(hdr[0])
	payload := append(append([]byte{}, hdr[:]...), asc...)
	return p.sendMessage(csidAudio, typeIDAudio, timestamp, payload)
}

// SendAudioData sends one raw (ADTS-less) AAC access unit, using the audio
// header byte cached by the most recent SendAudioSpecificConfig call.
func (p *Publisher) SendAudioData(timestamp uint32, frame []byte) (int, error) {
	if err := p.requireReady("publish.send_audio_data"); err != nil {
		return 0, err
	}
	if len(frame) == 0 {
		return 0, errors.NewArgumentError("publish.send_audio_data", errEmptyFrame)
	}
	headerByte, ok := p.sess.Mux().CachedAudioHeader()
	if !ok {
		return 0, errors.NewStateError("publish.send_audio_data", errNoAudioConfig)
	}
	hdr := media.BuildAudioFrameHeader(headerByte)
	payload := append(append([]byte{}, hdr[:]...), frame...)
	return p.sendMessage(csidAudio, typeIDAudio, timestamp, payload)
}

// SendVideoAVCC sends the AVCDecoderConfigurationRecord (avcC box) that must
// precede any NALU access unit for a given encoder configuration.
func (p *Publisher) SendVideoAVCC(timestamp uint32, avcC []byte) (int, error) {
	if err := p.requireReady("publish.send_video_avcc"); err != nil {
		return 0, err
	}
	hdr := media.BuildVideoSequenceHeader()
	payload := append(append([]byte{}, hdr[:]...), avcC...)
	return p.sendMessage(csidVideo, typeIDVideo, timestamp, payload)
}

// SendVideoFrame sends one AVCC-framed (4-byte length-prefixed NALUs) access
// unit, scanning it for an IDR slice to mark the frame type correctly.
// compositionTimeOffset is PTS-DTS in RTMP's timescale (0 for streams with no
// B-frames).
func (p *Publisher) SendVideoFrame(timestamp uint32, accessUnit []byte, compositionTimeOffset int32) (int, error) {
	if err := p.requireReady("publish.send_video_frame"); err != nil {
		return 0, err
	}
	if len(accessUnit) == 0 {
		return 0, errors.NewArgumentError("publish.send_video_frame", errEmptyFrame)
	}
	hdr, err := media.BuildVideoFrameHeader(accessUnit, compositionTimeOffset)
	if err != nil {
		return 0, err
	}
	payload := append(append([]byte{}, hdr[:]...), accessUnit...)
	return p.sendMessage(csidVideo, typeIDVideo, timestamp, payload)
}

func (p *Publisher) sendMessage(csid uint32, typeID uint8, timestamp uint32, payload []byte) (int, error) {
	return p.sess.Mux().SendMessage(csid, typeID, p.streamMsgID(), timestamp, payload)
}

var errEmptyFrame = emptyFrameError{}

type emptyFrameError struct{}

func (emptyFrameError) Error() string { return "empty media frame" }

var errNoAudioConfig = noAudioConfigError{}

type noAudioConfigError struct{}

func (noAudioConfigError) Error() string {
	return "no AudioSpecificConfig sent yet; call SendAudioSpecificConfig first"
}
