package mdr

// Command builders return a raw opcode-prefixed payload; framing and
// sequencing are applied by the channel layer. Payload layouts were
// verified against HCI traffic captures from a WH-1000XM6.

func clamp(v, lo, hi int) byte {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return byte(v)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// NcAsm builds the low-level NC/ASM set command. The ambient level is
// clamped to [0,20]. Known-good captures:
//
//	NC ON:  68 19 01 01 00 01 14 00 00
//	ASM ON: 68 19 01 01 01 00 0A 00 00
//	OFF:    68 19 01 00 00 00 14 00 00
func NcAsm(ncOn, asmOn bool, asmLevel int, focusVoice bool) []byte {
	return []byte{
		byte(CmdNcAsmSet),
		byte(NcAsmTypeXM6),
		0x01, // sub-command
		boolByte(ncOn || asmOn),
		boolByte(asmOn),
		boolByte(ncOn),
		clamp(asmLevel, 0, 20),
		boolByte(focusVoice),
		0x00, // reserved
	}
}

// AncCommand is the high-level mode setter. AncOff clears both mode flags
// regardless of the level and focus inputs.
func AncCommand(mode AncMode, asmLevel int, focusVoice bool) []byte {
	switch mode {
	case AncNoiseCancelling:
		return NcAsm(true, false, 20, false)
	case AncAmbient:
		return NcAsm(false, true, asmLevel, focusVoice)
	default:
		return NcAsm(false, false, 20, false)
	}
}

// NcAsmGet requests the current NC/ASM status. Response opcode 0x67.
func NcAsmGet() []byte {
	return []byte{byte(CmdNcAsmGet), byte(NcAsmTypeXM6)}
}

// BatteryInquiry requests the battery level. Response opcode 0x23 with
// payload[2]=level and payload[3]=charging.
func BatteryInquiry() []byte {
	return []byte{byte(CmdBatteryGet), 0x00}
}

// EqPresetSet selects a built-in equalizer preset.
func EqPresetSet(preset EqPreset) []byte {
	return []byte{byte(CmdEqSet), 0x01, byte(preset)}
}

// VolumeSet sets the music volume, clamped to [0,30].
func VolumeSet(level int) []byte {
	return []byte{byte(CmdPlaySetParam), byte(PlayTypeMusicVolume), clamp(level, 0, 30)}
}

// VolumeGet requests the current volume. Response opcode 0xA7, payload[2].
func VolumeGet() []byte {
	return []byte{byte(CmdPlayGetParam), byte(PlayTypeMusicVolume)}
}

// DseeSet enables or disables DSEE upscaling.
func DseeSet(enabled bool) []byte {
	return []byte{byte(CmdDseeSet), 0x01, boolByte(enabled)}
}

// DseeGet requests the current DSEE state. Response opcode 0xE7, payload[2].
func DseeGet() []byte {
	return []byte{byte(CmdDseeGet), 0x01}
}

// SpeakToChatSet enables or disables speak-to-chat. Sensitivity and timeout
// are fixed (HIGH, ~15s); they are not independently configurable here.
func SpeakToChatSet(enabled bool) []byte {
	return []byte{
		byte(CmdSpeakToChatSet),
		0x02,
		boolByte(enabled),
		0x01, // sensitivity
		0x01, // timeout
	}
}

// SpeakToChatGet requests the speak-to-chat state. Response opcode 0xF7.
func SpeakToChatGet() []byte {
	return []byte{byte(CmdSpeakToChatGet), 0x02}
}

// Playback builds a transport-control command.
func Playback(control PlaybackControl) []byte {
	return []byte{byte(CmdPlaySetStatus), byte(PlayTypeControl), byte(control)}
}

func Play() []byte      { return Playback(PlaybackPlay) }
func Pause() []byte     { return Playback(PlaybackPause) }
func NextTrack() []byte { return Playback(PlaybackTrackUp) }
func PrevTrack() []byte { return Playback(PlaybackTrackDown) }
