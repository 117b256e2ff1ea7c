// Package media converts already-encoded audio/video access units into the
// byte layouts RTMP's audio/video tag headers expect, and scans H.264 access
// units for IDR frames so the publish layer can mark keyframes.
package media

import (
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"

	"github.com/ashgrove/rtmp-publish/internal/errors"
)

// AudioTagHeader is the two leading bytes every AAC audio message on RTMP
// carries ahead of the payload: SoundFormat/Rate/Size/Type packed into byte 0,
// and the AACPacketType (sequence header vs raw frame) in byte 1.
type AudioTagHeader [2]byte

const (
	soundFormatAAC  = 0xA
	soundSize16Bit  = 1
	soundTypeStereo = 1
	soundTypeMono   = 0

	sampleRateBits48kOr44k = 0x3
	sampleRateBits22k      = 0x2
	sampleRateBits11k      = 0x1

	aacPacketTypeSequenceHeader = 0
	aacPacketTypeRaw            = 1
)

// BuildAudioSpecificConfigHeader parses an AAC AudioSpecificConfig (as found
// in an ADTS-less elementary stream or container audio decoder config record)
// and maps its object type, sample rate, and channel count through the RTMP
// audio-header table to derive the one-byte tag header that must precede it
// when sent as an AAC sequence header (type 8 message, AACPacketType=0).
// Configurations this client cannot represent on the wire (anything but
// AAC-LC, or a sample rate outside 48000/44100/22050/11025, or more than two
// channels) are rejected here, before anything is sent.
func BuildAudioSpecificConfigHeader(asc []byte) (AudioTagHeader, error) {
	var cfg mpeg4audio.Config
	if err := cfg.Unmarshal(asc); err != nil {
		return AudioTagHeader{}, errors.NewResourceError("media.parse_asc", err)
	}
	b, err := audioHeaderByte(cfg)
	if err != nil {
		return AudioTagHeader{}, err
	}
	return AudioTagHeader{b, aacPacketTypeSequenceHeader}, nil
}

// BuildAudioFrameHeader returns the RTMP tag header for a raw AAC access
// unit (AACPacketType=1), to be followed by the raw (ADTS-less) AAC frame
// bytes. headerByte is the byte BuildAudioSpecificConfigHeader derived from
// the stream's AudioSpecificConfig; callers cache it and pass it back in.
func BuildAudioFrameHeader(headerByte byte) AudioTagHeader {
	return AudioTagHeader{headerByte, aacPacketTypeRaw}
}

func audioHeaderByte(cfg mpeg4audio.Config) (byte, error) {
	if cfg.Type != mpeg4audio.ObjectTypeAACLC {
		return 0, errors.NewArgumentError("media.parse_asc",
			fmt.Errorf("unsupported AAC object type %v, only AAC-LC is supported", cfg.Type))
	}

	var rateBits byte
	switch cfg.SampleRate {
	case 48000, 44100:
		rateBits = sampleRateBits48kOr44k
	case 22050:
		rateBits = sampleRateBits22k
	case 11025:
		rateBits = sampleRateBits11k
	default:
		return 0, errors.NewArgumentError("media.parse_asc",
			fmt.Errorf("unsupported AAC sample rate %d Hz", cfg.SampleRate))
	}

	var channelBits byte
	switch cfg.ChannelCount {
	case 1:
		channelBits = soundTypeMono
	case 2:
		channelBits = soundTypeStereo
	default:
		return 0, errors.NewArgumentError("media.parse_asc",
			fmt.Errorf("unsupported AAC channel count %d, only mono or stereo is supported", cfg.ChannelCount))
	}

	return soundFormatAAC<<4 | rateBits<<2 | soundSize16Bit<<1 | channelBits, nil
}
