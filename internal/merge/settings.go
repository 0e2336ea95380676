package merge

import (
	"github.com/mindwtr/mindwtr/internal/canonical"
	"github.com/mindwtr/mindwtr/internal/schema"
)

// Settings sync groups. Each group has its own entry in
// settings.syncPreferencesUpdatedAt and is resolved independently.
const (
	GroupPreferences       = "preferences"
	GroupAppearance        = "appearance"
	GroupLanguage          = "language"
	GroupExternalCalendars = "externalCalendars"
	GroupAI                = "ai"
)

// groupFields lists the settings keys merged field by field within a group.
var groupFields = map[string][]string{
	GroupAppearance: {"theme", "appearance", "keybindingStyle"},
	GroupLanguage:   {"language", "weekStart", "dateFormat"},
}

// deviceLocalKeys never leave the device and are never taken from a remote
// copy.
var deviceLocalKeys = []string{schema.KeyDeviceID, "globalQuickAddShortcut"}

const aiAPIKey = "apiKey"

// MergeSettings merges two settings objects.
//
// When both sides carry a parseable updatedAt the later object wins as a
// whole, with ties going to local. Otherwise local settings are kept and only
// the sync groups are merged, each by its syncPreferencesUpdatedAt entry.
// Orchestrator-owned keys, device-local keys and the AI api key always come
// from local.
func MergeSettings(local, incoming schema.Settings) schema.Settings {
	if local == nil {
		local = schema.Settings{}
	}
	if incoming == nil {
		incoming = schema.Settings{}
	}

	localAt, okLocal := schema.ParseTime(local.String(schema.KeyUpdatedAt))
	incomingAt, okIncoming := schema.ParseTime(incoming.String(schema.KeyUpdatedAt))
	if okLocal && okIncoming {
		if !incomingAt.After(localAt) {
			return local.Clone()
		}
		merged := incoming.Clone()
		keepLocal(merged, local, schema.SyncOwnedKeys)
		keepLocal(merged, local, deviceLocalKeys)
		merged["ai"] = withLocalAPIKey(merged["ai"], local["ai"])
		if merged["ai"] == nil {
			delete(merged, "ai")
		}
		return merged
	}

	return mergeGroups(local, incoming)
}

func mergeGroups(local, incoming schema.Settings) schema.Settings {
	merged := local.Clone()
	localStamps := local.Object(schema.KeySyncPreferencesUpdatedAt)
	incomingStamps := incoming.Object(schema.KeySyncPreferencesUpdatedAt)

	stamps := map[string]any{}
	for k, v := range localStamps {
		stamps[k] = v
	}
	for k, v := range incomingStamps {
		stamps[k] = v
	}

	groups := []string{GroupPreferences, GroupAppearance, GroupLanguage, GroupExternalCalendars, GroupAI}
	for _, group := range groups {
		localStamp, _ := localStamps[group].(string)
		incomingStamp, _ := incomingStamps[group].(string)
		incomingWins := isIncomingNewer(localStamp, incomingStamp)

		switch group {
		case GroupPreferences:
			chooseField(merged, local, incoming, schema.KeySyncPreferences, incomingWins)
		case GroupAppearance, GroupLanguage:
			for _, key := range groupFields[group] {
				chooseField(merged, local, incoming, key, incomingWins)
			}
		case GroupExternalCalendars:
			if incomingWins {
				copyField(merged, incoming, "externalCalendars")
			}
		case GroupAI:
			chooseField(merged, local, incoming, "ai", incomingWins)
			if ai := withLocalAPIKey(merged["ai"], local["ai"]); ai != nil {
				merged["ai"] = ai
			}
		}

		winner := localStamp
		if incomingWins {
			winner = incomingStamp
		}
		if winner != "" {
			stamps[group] = winner
		}
	}

	if len(stamps) > 0 {
		merged[schema.KeySyncPreferencesUpdatedAt] = stamps
	}
	return merged
}

// chooseField resolves one key: a value missing on one side is taken from
// the other, equal values keep local, and differing values follow the
// group's winner.
func chooseField(merged, local, incoming schema.Settings, key string, incomingWins bool) {
	lv, hasLocal := local[key]
	iv, hasIncoming := incoming[key]
	switch {
	case !hasIncoming:
		return
	case !hasLocal:
		copyField(merged, incoming, key)
	case canonical.Equal(lv, iv):
		return
	case incomingWins:
		copyField(merged, incoming, key)
	}
}

func copyField(dst, src schema.Settings, key string) {
	v, ok := src[key]
	if !ok {
		delete(dst, key)
		return
	}
	dst[key] = schema.Settings{key: v}.Clone()[key]
}

func keepLocal(merged, local schema.Settings, keys []string) {
	for _, key := range keys {
		if v, ok := local[key]; ok {
			merged[key] = schema.Settings{key: v}.Clone()[key]
		} else {
			delete(merged, key)
		}
	}
}

// withLocalAPIKey returns ai with its apiKey replaced by the local one.
func withLocalAPIKey(ai, localAI any) any {
	obj, ok := ai.(map[string]any)
	if !ok {
		return ai
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	delete(out, aiAPIKey)
	if localObj, ok := localAI.(map[string]any); ok {
		if key, ok := localObj[aiAPIKey]; ok {
			out[aiAPIKey] = key
		}
	}
	return out
}

func isIncomingNewer(localAt, incomingAt string) bool {
	incoming, ok := schema.ParseTime(incomingAt)
	if !ok {
		return false
	}
	local, ok := schema.ParseTime(localAt)
	if !ok {
		return true
	}
	return incoming.After(local)
}
