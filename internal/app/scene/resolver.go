// Package scene resolves effective show settings. Resolve is pure and
// side-effect free: the sync read path calls it once per setting.
package scene

import "github.com/stagehand-live/stagehand/internal/domain"

// settingDefault applies when the override is automatic and no scene is
// selected. Curtains default to closed, the safe state; everything else
// stays off until a scene turns it on.
func settingDefault(setting domain.Setting) bool {
	return setting == domain.SettingCurtains
}

// Resolve combines a per-setting tri-state override with the selected
// scene's defaults. The scene may be nil (no scene selected).
func Resolve(setting domain.Setting, override domain.Override, sc *domain.Scene) bool {
	switch override {
	case domain.OverrideForcedOn:
		return true
	case domain.OverrideForcedOff:
		return false
	}
	if sc != nil {
		return sc.Default(setting)
	}
	return settingDefault(setting)
}

// ResolveAll resolves every known setting. Overrides missing from the
// map count as automatic.
func ResolveAll(overrides map[domain.Setting]domain.Override, sc *domain.Scene) map[domain.Setting]bool {
	out := make(map[domain.Setting]bool, len(domain.Settings))
	for _, setting := range domain.Settings {
		override, ok := overrides[setting]
		if !ok {
			override = domain.OverrideAutomatic
		}
		out[setting] = Resolve(setting, override, sc)
	}
	return out
}
