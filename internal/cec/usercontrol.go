package cec

import (
	"fmt"
	"strconv"
	"strings"
)

// UserControl is a remote-control button code carried by <User Control Pressed>
type UserControl uint8

const (
	Select                   UserControl = 0x00
	Up                       UserControl = 0x01
	Down                     UserControl = 0x02
	Left                     UserControl = 0x03
	Right                    UserControl = 0x04
	RightUp                  UserControl = 0x05
	RightDown                UserControl = 0x06
	LeftUp                   UserControl = 0x07
	LeftDown                 UserControl = 0x08
	RootMenu                 UserControl = 0x09
	SetupMenu                UserControl = 0x0A
	ContentsMenu             UserControl = 0x0B
	FavoriteMenu             UserControl = 0x0C
	Exit                     UserControl = 0x0D
	TopMenu                  UserControl = 0x10
	DVDMenu                  UserControl = 0x11
	NumberEntryMode          UserControl = 0x1D
	Number11                 UserControl = 0x1E
	Number12                 UserControl = 0x1F
	Number0                  UserControl = 0x20
	Number1                  UserControl = 0x21
	Number2                  UserControl = 0x22
	Number3                  UserControl = 0x23
	Number4                  UserControl = 0x24
	Number5                  UserControl = 0x25
	Number6                  UserControl = 0x26
	Number7                  UserControl = 0x27
	Number8                  UserControl = 0x28
	Number9                  UserControl = 0x29
	Dot                      UserControl = 0x2A
	Enter                    UserControl = 0x2B
	Clear                    UserControl = 0x2C
	NextFavorite             UserControl = 0x2F
	ChannelUp                UserControl = 0x30
	ChannelDown              UserControl = 0x31
	PreviousChannel          UserControl = 0x32
	SoundSelect              UserControl = 0x33
	InputSelect              UserControl = 0x34
	DisplayInformation       UserControl = 0x35
	Help                     UserControl = 0x36
	PageUp                   UserControl = 0x37
	PageDown                 UserControl = 0x38
	Power                    UserControl = 0x40
	VolumeUp                 UserControl = 0x41
	VolumeDown               UserControl = 0x42
	Mute                     UserControl = 0x43
	Play                     UserControl = 0x44
	Stop                     UserControl = 0x45
	Pause                    UserControl = 0x46
	Record                   UserControl = 0x47
	Rewind                   UserControl = 0x48
	FastForward              UserControl = 0x49
	Eject                    UserControl = 0x4A
	Forward                  UserControl = 0x4B
	Backward                 UserControl = 0x4C
	StopRecord               UserControl = 0x4D
	PauseRecord              UserControl = 0x4E
	Angle                    UserControl = 0x50
	SubPicture               UserControl = 0x51
	VideoOnDemand            UserControl = 0x52
	ElectronicProgramGuide   UserControl = 0x53
	TimerProgramming         UserControl = 0x54
	InitialConfiguration     UserControl = 0x55
	SelectBroadcastType      UserControl = 0x56
	SelectSoundPresentation  UserControl = 0x57
	PlayFunction             UserControl = 0x60
	PausePlayFunction        UserControl = 0x61
	RecordFunction           UserControl = 0x62
	PauseRecordFunction      UserControl = 0x63
	StopFunction             UserControl = 0x64
	MuteFunction             UserControl = 0x65
	RestoreVolumeFunction    UserControl = 0x66
	TuneFunction             UserControl = 0x67
	SelectMediaFunction      UserControl = 0x68
	SelectAVInputFunction    UserControl = 0x69
	SelectAudioInputFunction UserControl = 0x6A
	PowerToggleFunction      UserControl = 0x6B
	PowerOffFunction         UserControl = 0x6C
	PowerOnFunction          UserControl = 0x6D
	F1Blue                   UserControl = 0x71
	F2Red                    UserControl = 0x72
	F3Green                  UserControl = 0x73
	F4Yellow                 UserControl = 0x74
	F5                       UserControl = 0x75
	Data                     UserControl = 0x76
)

var userControlNames = map[UserControl]string{
	Select: "SELECT", Up: "UP", Down: "DOWN", Left: "LEFT", Right: "RIGHT",
	RightUp: "RIGHT_UP", RightDown: "RIGHT_DOWN", LeftUp: "LEFT_UP", LeftDown: "LEFT_DOWN",
	RootMenu: "ROOT_MENU", SetupMenu: "SETUP_MENU", ContentsMenu: "CONTENTS_MENU",
	FavoriteMenu: "FAVORITE_MENU", Exit: "EXIT", TopMenu: "TOP_MENU", DVDMenu: "DVD_MENU",
	NumberEntryMode: "NUMBER_ENTRY_MODE", Number11: "NUMBER11", Number12: "NUMBER12",
	Number0: "NUMBER0", Number1: "NUMBER1", Number2: "NUMBER2", Number3: "NUMBER3",
	Number4: "NUMBER4", Number5: "NUMBER5", Number6: "NUMBER6", Number7: "NUMBER7",
	Number8: "NUMBER8", Number9: "NUMBER9", Dot: "DOT", Enter: "ENTER", Clear: "CLEAR",
	NextFavorite: "NEXT_FAVORITE", ChannelUp: "CHANNEL_UP", ChannelDown: "CHANNEL_DOWN",
	PreviousChannel: "PREVIOUS_CHANNEL", SoundSelect: "SOUND_SELECT", InputSelect: "INPUT_SELECT",
	DisplayInformation: "DISPLAY_INFORMATION", Help: "HELP", PageUp: "PAGE_UP", PageDown: "PAGE_DOWN",
	Power: "POWER", VolumeUp: "VOLUME_UP", VolumeDown: "VOLUME_DOWN", Mute: "MUTE",
	Play: "PLAY", Stop: "STOP", Pause: "PAUSE", Record: "RECORD", Rewind: "REWIND",
	FastForward: "FAST_FORWARD", Eject: "EJECT", Forward: "FORWARD", Backward: "BACKWARD",
	StopRecord: "STOP_RECORD", PauseRecord: "PAUSE_RECORD", Angle: "ANGLE",
	SubPicture: "SUB_PICTURE", VideoOnDemand: "VIDEO_ON_DEMAND",
	ElectronicProgramGuide: "ELECTRONIC_PROGRAM_GUIDE", TimerProgramming: "TIMER_PROGRAMMING",
	InitialConfiguration: "INITIAL_CONFIGURATION", SelectBroadcastType: "SELECT_BROADCAST_TYPE",
	SelectSoundPresentation: "SELECT_SOUND_PRESENTATION", PlayFunction: "PLAY_FUNCTION",
	PausePlayFunction: "PAUSE_PLAY_FUNCTION", RecordFunction: "RECORD_FUNCTION",
	PauseRecordFunction: "PAUSE_RECORD_FUNCTION", StopFunction: "STOP_FUNCTION",
	MuteFunction: "MUTE_FUNCTION", RestoreVolumeFunction: "RESTORE_VOLUME_FUNCTION",
	TuneFunction: "TUNE_FUNCTION", SelectMediaFunction: "SELECT_MEDIA_FUNCTION",
	SelectAVInputFunction: "SELECT_AV_INPUT_FUNCTION", SelectAudioInputFunction: "SELECT_AUDIO_INPUT_FUNCTION",
	PowerToggleFunction: "POWER_TOGGLE_FUNCTION", PowerOffFunction: "POWER_OFF_FUNCTION",
	PowerOnFunction: "POWER_ON_FUNCTION", F1Blue: "F1_BLUE", F2Red: "F2_RED",
	F3Green: "F3_GREEN", F4Yellow: "F4_YELLOW", F5: "F5", Data: "DATA",
}

var userControlsByName = func() map[string]UserControl {
	m := make(map[string]UserControl, len(userControlNames))
	for code, name := range userControlNames {
		m[name] = code
	}
	return m
}()

func (u UserControl) String() string {
	if name, ok := userControlNames[u]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(u))
}

// ParseUserControl accepts a control name ("VOLUME_UP", "volume_up") or a hex code ("0x41").
func ParseUserControl(s string) (UserControl, error) {
	if code, ok := userControlsByName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return code, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 8)
		if err == nil {
			return UserControl(v), nil
		}
	}
	return 0, fmt.Errorf("unknown user control %q", s)
}
