package amf

import (
	"bytes"
	"fmt"

	amferrors "github.com/ashgrove/rtmp-publish/internal/errors"
)

// PeekCommandHeader reads just enough of an AMF0 command payload to recover
// the command name and transaction id without decoding the remainder of the
// argument list. Every RTMP command (connect, createStream, publish,
// onStatus, _result, _error, ...) begins with these two values, so response
// routing only needs this much before the rest of the payload is decoded.
func PeekCommandHeader(payload []byte) (name string, transactionID float64, err error) {
	r := bytes.NewReader(payload)
	nameVal, err := DecodeString(r)
	if err != nil {
		return "", 0, amferrors.NewAMFError("peek.command.name", err)
	}
	idVal, err := DecodeNumber(r)
	if err != nil {
		return "", 0, amferrors.NewAMFError("peek.command.transaction_id", fmt.Errorf("command %q: %w", nameVal, err))
	}
	return nameVal, idVal, nil
}
