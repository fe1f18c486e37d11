// Package protocol holds wire-level constants shared by the control,
// audio and RTP packages: ports, FEC shard counts, ENet channel ids
// and the control message type registry.
package protocol

// Default network ports (relative to the Moonlight/GameStream base port).
const (
	PortHTTP    = 47989 // pairing HTTP API
	PortHTTPS   = 47984 // pairing HTTPS API
	PortVideo   = 47998 // RTP video
	PortControl = 47999 // control / ENet
	PortAudio   = 48000 // RTP audio
)

// RTP header layout, per spec wire-format table.
const (
	RTPHeaderSize   = 12
	RTPFlags        = 0x80
	RTPPacketTypeAV = 0x61 // audio
)

// FEC shard counts for the audio stream.
const (
	AudioFECDataShards   = 4
	AudioFECParityShards = 2
	AudioFECTotalShards  = AudioFECDataShards + AudioFECParityShards
)

// ENet packet flags (subset of enet_uint32 PacketFlag).
const (
	ENetPacketFlagReliable    = 1 << 0
	ENetPacketFlagUnsequenced = 1 << 1
	ENetPacketFlagNoAllocate  = 1 << 2
)

// Control stream channel ids.
const (
	CtrlChannelGeneric     = 0
	CtrlChannelUrgent      = 1
	CtrlChannelKeyboard    = 2
	CtrlChannelMouse       = 3
	CtrlChannelGamepadBase = 4
	CtrlChannelCount       = 39
	CtrlChannelLimit       = CtrlChannelCount
)

// ControlMessageType is the 16-bit little-endian type tag on the
// control stream wire.
type ControlMessageType uint16

const (
	CtrlEncrypted                 ControlMessageType = 0x0001
	CtrlTermination               ControlMessageType = 0x0100
	CtrlRumbleData                ControlMessageType = 0x010b
	CtrlPing                      ControlMessageType = 0x0200
	CtrlLossStats                 ControlMessageType = 0x0201
	CtrlFrameStats                ControlMessageType = 0x0204
	CtrlInputData                 ControlMessageType = 0x0206
	CtrlInvalidateReferenceFrames ControlMessageType = 0x0301
	CtrlRequestIdrFrame           ControlMessageType = 0x0302
	CtrlStartA                    ControlMessageType = 0x0305
	CtrlStartB                    ControlMessageType = 0x0307
)

// String returns a human-readable name, used for logging unknown or
// ignored control message types.
func (t ControlMessageType) String() string {
	switch t {
	case CtrlEncrypted:
		return "Encrypted"
	case CtrlTermination:
		return "Termination"
	case CtrlRumbleData:
		return "RumbleData"
	case CtrlPing:
		return "Ping"
	case CtrlLossStats:
		return "LossStats"
	case CtrlFrameStats:
		return "FrameStats"
	case CtrlInputData:
		return "InputData"
	case CtrlInvalidateReferenceFrames:
		return "InvalidateReferenceFrames"
	case CtrlRequestIdrFrame:
		return "RequestIdrFrame"
	case CtrlStartA:
		return "StartA"
	case CtrlStartB:
		return "StartB"
	default:
		return "Unknown"
	}
}
