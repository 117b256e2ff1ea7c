package media

import (
	"encoding/binary"
	"errors"

	protoerr "github.com/ashgrove/rtmp-publish/internal/errors"
)

var (
	errTruncatedLength = errors.New("truncated NALU length prefix")
	errTruncatedNALU   = errors.New("NALU length exceeds remaining access unit bytes")
)

const (
	videoCodecIDAVC = 7

	videoFrameTypeKey   = 1
	videoFrameTypeInter = 2

	avcPacketTypeSequenceHeader = 0
	avcPacketTypeNALU           = 1

	nalTypeIDR = 5
	nalTypeMask = 0x1F

	// avccLengthFieldSize is the NALU length-prefix width this scanner
	// assumes. avcC boxes carry their own lengthSizeMinusOne, but every
	// encoder this client targets (x264, hardware AVC encoders via the
	// standard Annex B -> AVCC remux) emits 4-byte lengths, so a single
	// fixed width is sufficient without threading the avcC box through the
	// publish API.
	avccLengthFieldSize = 4
)

// VideoTagHeader is the five leading bytes every AVC video message on RTMP
// carries ahead of the payload: FrameType/CodecID in byte 0, AVCPacketType
// in byte 1, and a 24-bit composition time offset in bytes 2-4.
type VideoTagHeader [5]byte

// BuildVideoSequenceHeader returns the tag header for an AVCDecoderConfigurationRecord
// (the avcC box), always marked as a keyframe with a zero composition time.
func BuildVideoSequenceHeader() VideoTagHeader {
	return buildVideoTagHeader(videoFrameTypeKey, avcPacketTypeSequenceHeader, 0)
}

// BuildVideoFrameHeader scans an AVCC-framed access unit (one or more
// 4-byte-length-prefixed NALUs) for a NAL unit type 5 (IDR slice) to decide
// the frame type, and returns the tag header to send ahead of the access
// unit's bytes, unmodified, with the given composition time offset
// (PTS - DTS, as produced by a B-frame-aware encoder; 0 for baseline/main
// profile streams with no B-frames).
func BuildVideoFrameHeader(accessUnit []byte, compositionTimeOffset int32) (VideoTagHeader, error) {
	isIDR, err := ScanAVCCForIDR(accessUnit)
	if err != nil {
		return VideoTagHeader{}, err
	}
	frameType := videoFrameTypeInter
	if isIDR {
		frameType = videoFrameTypeKey
	}
	return buildVideoTagHeader(frameType, avcPacketTypeNALU, compositionTimeOffset), nil
}

func buildVideoTagHeader(frameType, packetType int, compositionTimeOffset int32) VideoTagHeader {
	var h VideoTagHeader
	h[0] = byte(frameType<<4) | videoCodecIDAVC
	h[1] = byte(packetType)
	// 24-bit signed composition time, big-endian.
	h[2] = byte(compositionTimeOffset >> 16)
	h[3] = byte(compositionTimeOffset >> 8)
	h[4] = byte(compositionTimeOffset)
	return h
}

// ScanAVCCForIDR walks a length-prefixed (AVCC) access unit looking for a NAL
// unit of type 5 (IDR slice), which marks the access unit as a keyframe.
func ScanAVCCForIDR(accessUnit []byte) (bool, error) {
	pos := 0
	for pos < len(accessUnit) {
		if pos+avccLengthFieldSize > len(accessUnit) {
			return false, protoerr.NewResourceError("media.scan_avcc", errTruncatedLength)
		}
		naluLen := binary.BigEndian.Uint32(accessUnit[pos : pos+avccLengthFieldSize])
		pos += avccLengthFieldSize
		if naluLen == 0 || pos+int(naluLen) > len(accessUnit) {
			return false, protoerr.NewResourceError("media.scan_avcc", errTruncatedNALU)
		}
		nalType := accessUnit[pos] & nalTypeMask
		if nalType == nalTypeIDR {
			return true, nil
		}
		pos += int(naluLen)
	}
	return false, nil
}
