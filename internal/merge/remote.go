package merge

import (
	"github.com/mindwtr/mindwtr/internal/schema"
)

// SanitizeForRemote returns the copy of data that may be written to a shared
// backend. Records are sent as is. Settings are reduced to the sync
// preferences and the groups they enable, and secrets are removed.
func SanitizeForRemote(data schema.AppData) schema.AppData {
	out := schema.Normalize(data)
	src := out.Settings
	prefs := src.Object(schema.KeySyncPreferences)

	next := schema.Settings{}
	if prefs != nil {
		next[schema.KeySyncPreferences] = prefs
	} else {
		next[schema.KeySyncPreferences] = map[string]any{}
	}
	if stamps, ok := src[schema.KeySyncPreferencesUpdatedAt]; ok {
		next[schema.KeySyncPreferencesUpdatedAt] = stamps
	}

	enabled := func(group string) bool {
		v, _ := prefs[group].(bool)
		return v
	}
	copyKeys := func(keys ...string) {
		for _, key := range keys {
			if v, ok := src[key]; ok {
				next[key] = v
			}
		}
	}

	if enabled(GroupAppearance) {
		copyKeys(groupFields[GroupAppearance]...)
	}
	if enabled(GroupLanguage) {
		copyKeys(groupFields[GroupLanguage]...)
	}
	if enabled(GroupExternalCalendars) {
		copyKeys("externalCalendars")
	}
	if enabled(GroupAI) {
		if ai, ok := src["ai"].(map[string]any); ok {
			clean := make(map[string]any, len(ai))
			for k, v := range ai {
				if k == aiAPIKey {
					continue
				}
				clean[k] = v
			}
			if stt, ok := clean["speechToText"].(map[string]any); ok {
				sttClean := make(map[string]any, len(stt))
				for k, v := range stt {
					if k != "offlineModelPath" {
						sttClean[k] = v
					}
				}
				clean["speechToText"] = sttClean
			}
			next["ai"] = clean
		}
	}

	out.Settings = next
	return out
}
