package domain

// Setting is one of the logical show toggles resolved per sync response.
type Setting string

const (
	SettingCurtains     Setting = "curtains"
	SettingChat         Setting = "chat"
	SettingReactions    Setting = "reactions"
	SettingEffects      Setting = "effects"
	SettingVisitorAudio Setting = "visitor-audio"
	SettingVisitorVideo Setting = "visitor-video"
)

// Settings lists every known setting, in broadcast order.
var Settings = []Setting{
	SettingCurtains,
	SettingChat,
	SettingReactions,
	SettingEffects,
	SettingVisitorAudio,
	SettingVisitorVideo,
}

// Override is the per-setting tri-state set by show control. AUTOMATIC
// defers to the selected scene's defaults.
type Override string

const (
	OverrideAutomatic Override = "automatic"
	OverrideForcedOn  Override = "forced-on"
	OverrideForcedOff Override = "forced-off"
)

// Scene is a named layout plus boolean defaults per setting.
type Scene struct {
	Name         string `json:"name"`
	Layout       string `json:"layout"`
	Curtains     bool   `json:"curtains"`
	Chat         bool   `json:"chat"`
	Reactions    bool   `json:"reactions"`
	Effects      bool   `json:"effects"`
	VisitorAudio bool   `json:"visitorAudio"`
	VisitorVideo bool   `json:"visitorVideo"`
}

// Default returns the scene's default for a setting.
func (s *Scene) Default(setting Setting) bool {
	switch setting {
	case SettingCurtains:
		return s.Curtains
	case SettingChat:
		return s.Chat
	case SettingReactions:
		return s.Reactions
	case SettingEffects:
		return s.Effects
	case SettingVisitorAudio:
		return s.VisitorAudio
	case SettingVisitorVideo:
		return s.VisitorVideo
	}
	return false
}
