package amf

import (
	"encoding/binary"
	"fmt"
	"io"

	amferrors "github.com/ashgrove/rtmp-publish/internal/errors"
)

// markerEcmaArray is the AMF0 type marker for ECMA Array (0x08), used for
// onMetaData property bags. Wire format mirrors Object but with a (largely
// advisory, unused on decode) 4-byte element count between the marker and
// the key/value pairs:
//
//	0x08 | 4-byte big-endian count | repeated { key, value } | 0x00 0x00 0x09
func EncodeEcmaArray(w io.Writer, m map[string]interface{}) error {
	return encodeEcmaLike(w, m, nil)
}

// EncodeOrderedEcmaArray encodes an ECMA Array preserving caller-supplied
// property order, required for onMetaData consumers that rely on ordering.
func EncodeOrderedEcmaArray(w io.Writer, obj OrderedObject) error {
	return encodeEcmaLike(w, nil, obj)
}

func encodeEcmaLike(w io.Writer, m map[string]interface{}, ordered OrderedObject) error {
	var hdr [1 + 4]byte
	hdr[0] = markerEcmaArray
	count := len(m)
	if ordered != nil {
		count = len(ordered)
	}
	binary.BigEndian.PutUint32(hdr[1:], uint32(count))
	if _, err := w.Write(hdr[:]); err != nil {
		return amferrors.NewAMFError("encode.ecma.header.write", err)
	}

	writeProp := func(k string, v interface{}) error {
		kb := []byte(k)
		if len(kb) > 0xFFFF {
			return fmt.Errorf("key '%s' length %d exceeds 65535", k, len(kb))
		}
		var klen [2]byte
		binary.BigEndian.PutUint16(klen[:], uint16(len(kb)))
		if _, err := w.Write(klen[:]); err != nil {
			return err
		}
		if len(kb) > 0 {
			if _, err := w.Write(kb); err != nil {
				return err
			}
		}
		return encodeAny(w, v)
	}

	if ordered != nil {
		for _, kv := range ordered {
			if err := writeProp(kv.Key, kv.Value); err != nil {
				return amferrors.NewAMFError("encode.ecma.value", fmt.Errorf("key '%s': %w", kv.Key, err))
			}
		}
	} else {
		keys := sortedKeys(m)
		for _, k := range keys {
			if err := writeProp(k, m[k]); err != nil {
				return amferrors.NewAMFError("encode.ecma.value", fmt.Errorf("key '%s': %w", k, err))
			}
		}
	}

	if _, err := w.Write([]byte{0x00, 0x00, markerObjectEnd}); err != nil {
		return amferrors.NewAMFError("encode.ecma.end.write", err)
	}
	return nil
}

// DecodeEcmaArray decodes an AMF0 ECMA Array into a map[string]interface{}.
// The advisory count is read and discarded; decoding relies solely on the
// object-end sentinel, matching the liberal behavior of most RTMP encoders
// which emit an inaccurate count.
func DecodeEcmaArray(r io.Reader) (map[string]interface{}, error) {
	var mMarker [1]byte
	if _, err := io.ReadFull(r, mMarker[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecma.marker.read", err)
	}
	if mMarker[0] != markerEcmaArray {
		return nil, amferrors.NewAMFError("decode.ecma.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerEcmaArray, mMarker[0]))
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecma.count.read", err)
	}

	out := make(map[string]interface{})
	for {
		var klenBuf [2]byte
		if _, err := io.ReadFull(r, klenBuf[:]); err != nil {
			return nil, amferrors.NewAMFError("decode.ecma.key.length.read", err)
		}
		klen := binary.BigEndian.Uint16(klenBuf[:])
		if klen == 0 {
			var end [1]byte
			if _, err := io.ReadFull(r, end[:]); err != nil {
				return nil, amferrors.NewAMFError("decode.ecma.end.read", err)
			}
			if end[0] != markerObjectEnd {
				return nil, amferrors.NewAMFError("decode.ecma.end.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerObjectEnd, end[0]))
			}
			break
		}
		keyBytes := make([]byte, klen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, amferrors.NewAMFError("decode.ecma.key.read", err)
		}
		key := string(keyBytes)

		var valMarker [1]byte
		if _, err := io.ReadFull(r, valMarker[:]); err != nil {
			return nil, amferrors.NewAMFError("decode.ecma.value.marker.read", err)
		}
		val, err := decodeValueWithMarker(valMarker[0], r)
		if err != nil {
			return nil, amferrors.NewAMFError("decode.ecma.value", fmt.Errorf("key '%s': %w", key, err))
		}
		out[key] = val
	}
	return out, nil
}
