package mdr

import log "github.com/sirupsen/logrus"

// VolumeUnknown and BatteryUnknown mark fields no notification has filled yet.
const (
	BatteryUnknown = -1
	VolumeUnknown  = -1
)

// DeviceState is the cached snapshot of headset state. It is owned by the
// session loop and handed out by value; callers never mutate it.
type DeviceState struct {
	Connected   bool    `json:"connected"`
	Battery     int     `json:"battery"`
	Charging    bool    `json:"charging"`
	AncMode     AncMode `json:"anc_mode"`
	Volume      int     `json:"volume"`
	Dsee        bool    `json:"dsee"`
	SpeakToChat bool    `json:"speak_to_chat"`
}

func newDeviceState() DeviceState {
	return DeviceState{
		Battery: BatteryUnknown,
		AncMode: AncUnknown,
		Volume:  VolumeUnknown,
	}
}

// stateDelta is the typed result of decoding one notification payload.
// Nil fields leave the snapshot untouched.
type stateDelta struct {
	battery     *int
	charging    *bool
	ancMode     *AncMode
	volume      *int
	dsee        *bool
	speakToChat *bool
}

func (d stateDelta) apply(s *DeviceState) {
	if d.battery != nil {
		s.Battery = *d.battery
	}
	if d.charging != nil {
		s.Charging = *d.charging
	}
	if d.ancMode != nil {
		s.AncMode = *d.ancMode
	}
	if d.volume != nil {
		s.Volume = *d.volume
	}
	if d.dsee != nil {
		s.Dsee = *d.dsee
	}
	if d.speakToChat != nil {
		s.SpeakToChat = *d.speakToChat
	}
}

// stateDecoders maps a notification opcode to its payload decoder. A decoder
// returns ok=false when the payload is too short to carry the fields it
// names; such payloads are ignored rather than partially applied.
var stateDecoders = map[Command]func(payload []byte) (stateDelta, bool){
	CmdBatteryRet:        decodeBattery,
	CmdNcAsmRet:          decodeNcAsm,
	CmdNcAsmNotify:       decodeNcAsm,
	CmdPlayRetParam:      decodeVolume,
	CmdPlayNotifyParam:   decodeVolume,
	CmdDseeRet:           decodeDsee,
	CmdDseeNotify:        decodeDsee,
	CmdSpeakToChatRet:    decodeSpeakToChat,
	CmdSpeakToChatNotify: decodeSpeakToChat,
}

// decodeNotification turns a message payload into a state delta. Unmapped
// opcodes and short payloads return ok=false.
func decodeNotification(payload []byte) (stateDelta, bool) {
	if len(payload) == 0 {
		return stateDelta{}, false
	}
	dec, ok := stateDecoders[Command(payload[0])]
	if !ok {
		return stateDelta{}, false
	}
	return dec(payload)
}

// 0x23: payload[2]=level, payload[3]=charging
func decodeBattery(payload []byte) (stateDelta, bool) {
	if len(payload) < 4 {
		return stateDelta{}, false
	}
	level := int(payload[2])
	charging := payload[3] != 0
	log.Debugf("battery: %d%%, charging=%v", level, charging)
	return stateDelta{battery: &level, charging: &charging}, true
}

// 0x67/0x69: payload[3]=enable, payload[4]=ambient. Noise cancelling is
// inferred: enabled without ambient means NC mode.
func decodeNcAsm(payload []byte) (stateDelta, bool) {
	if len(payload) < 5 {
		return stateDelta{}, false
	}
	enable := payload[3] != 0
	ambient := payload[4] != 0
	mode := AncOff
	switch {
	case enable && !ambient:
		mode = AncNoiseCancelling
	case enable && ambient:
		mode = AncAmbient
	}
	log.Debugf("anc mode: %v", mode)
	return stateDelta{ancMode: &mode}, true
}

// 0xA7/0xA9: payload[2]=volume
func decodeVolume(payload []byte) (stateDelta, bool) {
	if len(payload) < 3 {
		return stateDelta{}, false
	}
	vol := int(payload[2])
	log.Debugf("volume: %d", vol)
	return stateDelta{volume: &vol}, true
}

// 0xE7/0xE9: payload[2]=enabled
func decodeDsee(payload []byte) (stateDelta, bool) {
	if len(payload) < 3 {
		return stateDelta{}, false
	}
	on := payload[2] != 0
	log.Debugf("dsee: %v", on)
	return stateDelta{dsee: &on}, true
}

// 0xF7/0xF9: payload[2]=enabled
func decodeSpeakToChat(payload []byte) (stateDelta, bool) {
	if len(payload) < 3 {
		return stateDelta{}, false
	}
	on := payload[2] != 0
	log.Debugf("speak-to-chat: %v", on)
	return stateDelta{speakToChat: &on}, true
}
