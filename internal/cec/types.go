// Package cec provides HDMI-CEC command encoding and transmission through a bus adapter.
package cec

import (
	"fmt"
	"strings"
)

// LogicalAddress identifies an endpoint role on the bus (a nibble).
type LogicalAddress uint8

const (
	AddrTV          LogicalAddress = 0x0
	AddrRecording1  LogicalAddress = 0x1
	AddrRecording2  LogicalAddress = 0x2
	AddrTuner1      LogicalAddress = 0x3
	AddrPlayback1   LogicalAddress = 0x4
	AddrAudioSystem LogicalAddress = 0x5
	AddrTuner2      LogicalAddress = 0x6
	AddrTuner3      LogicalAddress = 0x7
	AddrPlayback2   LogicalAddress = 0x8
	AddrRecording3  LogicalAddress = 0x9
	AddrTuner4      LogicalAddress = 0xA
	AddrPlayback3   LogicalAddress = 0xB
	AddrSpecific    LogicalAddress = 0xE
	AddrBroadcast   LogicalAddress = 0xF
)

var addressNames = map[LogicalAddress]string{
	AddrTV:          "TV",
	AddrRecording1:  "Recorder 1",
	AddrRecording2:  "Recorder 2",
	AddrTuner1:      "Tuner 1",
	AddrPlayback1:   "Playback 1",
	AddrAudioSystem: "Audio",
	AddrTuner2:      "Tuner 2",
	AddrTuner3:      "Tuner 3",
	AddrPlayback2:   "Playback 2",
	AddrRecording3:  "Recorder 3",
	AddrTuner4:      "Tuner 4",
	AddrPlayback3:   "Playback 3",
	AddrSpecific:    "Specific",
	AddrBroadcast:   "Broadcast",
}

func (a LogicalAddress) String() string {
	if name, ok := addressNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Reserved(%X)", uint8(a))
}

// Opcode identifies the operation a command requests
type Opcode uint8

const (
	OpFeatureAbort          Opcode = 0x00
	OpImageViewOn           Opcode = 0x04
	OpStandby               Opcode = 0x36
	OpUserControlPressed    Opcode = 0x44
	OpUserControlRelease    Opcode = 0x45
	OpGiveOSDName           Opcode = 0x46
	OpSetOSDName            Opcode = 0x47
	OpActiveSource          Opcode = 0x82
	OpGivePhysicalAddress   Opcode = 0x83
	OpReportPhysicalAddress Opcode = 0x84
	OpGiveDevicePowerStatus Opcode = 0x8F
	OpReportPowerStatus     Opcode = 0x90
)

// DeviceType is the primary device type this process announces itself as
type DeviceType uint8

const (
	DeviceTypeTV          DeviceType = 0
	DeviceTypeRecording   DeviceType = 1
	DeviceTypeTuner       DeviceType = 3
	DeviceTypePlayback    DeviceType = 4
	DeviceTypeAudioSystem DeviceType = 5
)

// ParseDeviceType converts a config name ("tuner", "playback", ...) to a DeviceType
func ParseDeviceType(name string) (DeviceType, error) {
	switch strings.ToLower(name) {
	case "tv":
		return DeviceTypeTV, nil
	case "recording", "recorder":
		return DeviceTypeRecording, nil
	case "", "tuner":
		return DeviceTypeTuner, nil
	case "playback":
		return DeviceTypePlayback, nil
	case "audio", "audiosystem":
		return DeviceTypeAudioSystem, nil
	}
	return 0, fmt.Errorf("unknown device type %q", name)
}

// PowerStatus is the power state reported by an endpoint
type PowerStatus uint8

const (
	PowerOn                      PowerStatus = 0x00
	PowerStandby                 PowerStatus = 0x01
	PowerInTransitionStandbyToOn PowerStatus = 0x02
	PowerInTransitionOnToStandby PowerStatus = 0x03
	PowerUnknown                 PowerStatus = 0x99
)

func (p PowerStatus) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerStandby:
		return "standby"
	case PowerInTransitionStandbyToOn:
		return "in transition from standby to on"
	case PowerInTransitionOnToStandby:
		return "in transition from on to standby"
	default:
		return "unknown"
	}
}
