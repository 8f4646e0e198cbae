package mdr

import "errors"

// Codec errors. ExtractMessage swallows these and resynchronizes; they only
// surface when Unpack is called directly.
var (
	ErrNoMarker       = errors.New("mdr: frame missing start or end marker")
	ErrShortFrame     = errors.New("mdr: frame shorter than header and checksum")
	ErrBadChecksum    = errors.New("mdr: frame checksum mismatch")
	ErrLengthMismatch = errors.New("mdr: frame length field does not match payload")
)

// Session errors. A timeout is a normal protocol outcome, not a fault: the
// caller decides whether to resend.
var (
	ErrNotConnected = errors.New("mdr: not connected")
	ErrNoResponse   = errors.New("mdr: no response from device")
	ErrBusy         = errors.New("mdr: a command is already in flight")
	ErrClosed       = errors.New("mdr: session closed")
)
