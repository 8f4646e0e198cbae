package mdr

import "fmt"

// Framing bytes for the MDR serial protocol. Everything between StartMarker
// and EndMarker is escaped so the markers can never occur inside a frame.
const (
	StartMarker byte = 0x3E // '>' start of frame
	EndMarker   byte = 0x3C // '<' end of frame
	EscapeByte  byte = 0x3D // '=' escape prefix
)

// escapeMap replaces the three reserved bytes with their substitutes.
// The substitutes lie outside the reserved set, so unescaping is a bijection.
var escapeMap = map[byte]byte{
	EndMarker:   0x2C,
	EscapeByte:  0x2D,
	StartMarker: 0x2E,
}

var unescapeMap = map[byte]byte{
	0x2C: EndMarker,
	0x2D: EscapeByte,
	0x2E: StartMarker,
}

// DataType tags a frame as payload-carrying or an acknowledgement.
type DataType byte

const (
	DataTypeData       DataType = 0x00
	DataTypeAck        DataType = 0x01
	DataTypeDataMdr    DataType = 0x0C // commands and notifications on XM6
	DataTypeDataCommon DataType = 0x0D
	DataTypeDataMdrNo2 DataType = 0x0E // used by XM5
)

// IsAck reports whether the data type is an acknowledgement frame.
// Verified against live traffic: the devices always acknowledge with 0x01,
// regardless of the data sub-variant being acknowledged.
func (d DataType) IsAck() bool { return d == DataTypeAck }

// Command is the feature opcode carried in the first payload byte.
// Convention: response opcode = request opcode + 1.
type Command byte

const (
	// Battery
	CmdBatteryGetLevel Command = 0x12
	CmdBatteryNotify   Command = 0x13
	CmdBatteryGet      Command = 0x22
	CmdBatteryRet      Command = 0x23

	// Noise cancelling / ambient sound
	CmdNcAsmGet    Command = 0x66
	CmdNcAsmRet    Command = 0x67
	CmdNcAsmSet    Command = 0x68
	CmdNcAsmNotify Command = 0x69

	// Equalizer
	CmdEqGet    Command = 0x56
	CmdEqRet    Command = 0x57
	CmdEqSet    Command = 0x58
	CmdEqNotify Command = 0x59

	// Playback status and parameters (volume rides on the parameter pair)
	CmdPlayGetStatus   Command = 0xA2
	CmdPlayRetStatus   Command = 0xA3
	CmdPlaySetStatus   Command = 0xA4
	CmdPlayGetParam    Command = 0xA6
	CmdPlayRetParam    Command = 0xA7
	CmdPlaySetParam    Command = 0xA8
	CmdPlayNotifyParam Command = 0xA9

	// DSEE upscaling
	CmdDseeGet    Command = 0xE6
	CmdDseeRet    Command = 0xE7
	CmdDseeSet    Command = 0xE8
	CmdDseeNotify Command = 0xE9

	// Speak-to-chat
	CmdSpeakToChatGet    Command = 0xF6
	CmdSpeakToChatRet    Command = 0xF7
	CmdSpeakToChatSet    Command = 0xF8
	CmdSpeakToChatNotify Command = 0xF9
)

// NcAsmInquiredType selects the device generation in NC/ASM payloads.
type NcAsmInquiredType byte

const (
	NcAsmTypeV1V2 NcAsmInquiredType = 0x02
	NcAsmTypeXM5  NcAsmInquiredType = 0x17
	NcAsmTypeXM6  NcAsmInquiredType = 0x19
)

// AncMode is the high-level noise control mode kept in the state snapshot.
type AncMode int

const (
	AncUnknown AncMode = iota
	AncOff
	AncNoiseCancelling
	AncAmbient
)

func (m AncMode) String() string {
	switch m {
	case AncOff:
		return "off"
	case AncNoiseCancelling:
		return "nc"
	case AncAmbient:
		return "ambient"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the mode under its user-facing name.
func (m AncMode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

var ancModeNames = map[string]AncMode{
	"off":     AncOff,
	"nc":      AncNoiseCancelling,
	"ambient": AncAmbient,
}

// AncModeByName resolves a user-facing mode name. Unknown names are a client
// error, rejected before any bytes are sent.
func AncModeByName(name string) (AncMode, error) {
	m, ok := ancModeNames[name]
	if !ok {
		return AncUnknown, fmt.Errorf("unknown ANC mode %q", name)
	}
	return m, nil
}

// EqPreset is a built-in equalizer preset ID.
type EqPreset byte

const (
	EqOff      EqPreset = 0x00
	EqRock     EqPreset = 0x01
	EqPop      EqPreset = 0x02
	EqJazz     EqPreset = 0x03
	EqDance    EqPreset = 0x04
	EqEdm      EqPreset = 0x05
	EqRAndB    EqPreset = 0x06
	EqHipHop   EqPreset = 0x07
	EqAcoustic EqPreset = 0x08
	EqBright   EqPreset = 0x10
	EqExcited  EqPreset = 0x11
	EqMellow   EqPreset = 0x12
	EqRelaxed  EqPreset = 0x13
	EqVocal    EqPreset = 0x14
	EqTreble   EqPreset = 0x15
	EqBass     EqPreset = 0x16
	EqSpeech   EqPreset = 0x17
)

var eqPresetNames = map[string]EqPreset{
	"off":      EqOff,
	"rock":     EqRock,
	"pop":      EqPop,
	"jazz":     EqJazz,
	"dance":    EqDance,
	"edm":      EqEdm,
	"r_and_b":  EqRAndB,
	"hip_hop":  EqHipHop,
	"acoustic": EqAcoustic,
	"bright":   EqBright,
	"excited":  EqExcited,
	"mellow":   EqMellow,
	"relaxed":  EqRelaxed,
	"vocal":    EqVocal,
	"treble":   EqTreble,
	"bass":     EqBass,
	"speech":   EqSpeech,
}

// EqPresetByName resolves a user-facing preset name.
func EqPresetByName(name string) (EqPreset, error) {
	p, ok := eqPresetNames[name]
	if !ok {
		return EqOff, fmt.Errorf("unknown EQ preset %q", name)
	}
	return p, nil
}

// PlaybackControl is a transport-control action sent via CmdPlaySetStatus.
type PlaybackControl byte

const (
	PlaybackPause     PlaybackControl = 0x01
	PlaybackTrackUp   PlaybackControl = 0x02
	PlaybackTrackDown PlaybackControl = 0x03
	PlaybackPlay      PlaybackControl = 0x07
)

var playbackNames = map[string]PlaybackControl{
	"play":  PlaybackPlay,
	"pause": PlaybackPause,
	"next":  PlaybackTrackUp,
	"prev":  PlaybackTrackDown,
}

// PlaybackByName resolves a user-facing playback action name.
func PlaybackByName(name string) (PlaybackControl, error) {
	c, ok := playbackNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown playback action %q", name)
	}
	return c, nil
}

// PlayInquiredType selects the playback sub-protocol.
type PlayInquiredType byte

const (
	PlayTypeControl     PlayInquiredType = 0x01
	PlayTypeMusicVolume PlayInquiredType = 0x20
)
