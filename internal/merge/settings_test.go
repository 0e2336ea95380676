package merge

import (
	"testing"
	"time"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// TestMergeSettings_WholeObjectByUpdatedAt verifies the revision timestamp rule.
func TestMergeSettings_WholeObjectByUpdatedAt(t *testing.T) {
	tests := []struct {
		name      string
		localAt   string
		remoteAt  string
		wantTheme string
	}{
		{name: "remote newer", localAt: t1, remoteAt: t2, wantTheme: "light"},
		{name: "local newer", localAt: t2, remoteAt: t1, wantTheme: "dark"},
		{name: "tie keeps local", localAt: t1, remoteAt: t1, wantTheme: "dark"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := schema.Settings{
				"updatedAt":          tt.localAt,
				"theme":              "dark",
				schema.KeyDeviceID:   "device-a",
				schema.KeyLastSyncAt: t1,
				"ai":                 map[string]any{"apiKey": "local-secret"},
			}
			remote := schema.Settings{
				"updatedAt":          tt.remoteAt,
				"theme":              "light",
				schema.KeyDeviceID:   "device-b",
				schema.KeyLastSyncAt: t3,
				"ai":                 map[string]any{"apiKey": "remote-secret", "provider": "openai"},
			}

			got := MergeSettings(local, remote)

			if got.String("theme") != tt.wantTheme {
				t.Errorf("theme = %q, want %q", got.String("theme"), tt.wantTheme)
			}
			if got.String(schema.KeyDeviceID) != "device-a" {
				t.Errorf("deviceId = %q, want device-a", got.String(schema.KeyDeviceID))
			}
			if got.String(schema.KeyLastSyncAt) != t1 {
				t.Errorf("lastSyncAt = %q, should stay local", got.String(schema.KeyLastSyncAt))
			}
			if key := got.Object("ai")["apiKey"]; key != "local-secret" {
				t.Errorf("ai.apiKey = %v, want local-secret", key)
			}
		})
	}
}

// TestMergeSettings_Groups verifies per-group resolution without a revision timestamp.
func TestMergeSettings_Groups(t *testing.T) {
	local := schema.Settings{
		"theme":    "dark",
		"language": "en",
		"custom":   "local only",
		schema.KeySyncPreferencesUpdatedAt: map[string]any{
			GroupAppearance: t1,
			GroupLanguage:   t2,
		},
	}
	remote := schema.Settings{
		"theme":     "light",
		"language":  "de",
		"weekStart": "monday",
		"custom":    "remote",
		schema.KeySyncPreferencesUpdatedAt: map[string]any{
			GroupAppearance: t2,
			GroupLanguage:   t1,
		},
	}

	got := MergeSettings(local, remote)

	if got.String("theme") != "light" {
		t.Errorf("theme = %q, want light (appearance newer remotely)", got.String("theme"))
	}
	if got.String("language") != "en" {
		t.Errorf("language = %q, want en (language newer locally)", got.String("language"))
	}
	if got.String("weekStart") != "monday" {
		t.Errorf("weekStart = %q, want monday (missing locally)", got.String("weekStart"))
	}
	if got.String("custom") != "local only" {
		t.Errorf("custom = %q, ungrouped keys should stay local", got.String("custom"))
	}
	stamps := got.Object(schema.KeySyncPreferencesUpdatedAt)
	if stamps[GroupAppearance] != t2 || stamps[GroupLanguage] != t2 {
		t.Errorf("syncPreferencesUpdatedAt = %v", stamps)
	}
}

// TestMergeSettings_AIKeyNeverFromRemote verifies secrets stay on the device.
func TestMergeSettings_AIKeyNeverFromRemote(t *testing.T) {
	local := schema.Settings{}
	remote := schema.Settings{
		"ai": map[string]any{"provider": "gemini", "apiKey": "remote-secret"},
		schema.KeySyncPreferencesUpdatedAt: map[string]any{GroupAI: t1},
	}

	got := MergeSettings(local, remote)

	ai := got.Object("ai")
	if ai["provider"] != "gemini" {
		t.Errorf("ai.provider = %v, want gemini", ai["provider"])
	}
	if _, ok := ai["apiKey"]; ok {
		t.Error("ai.apiKey must not be taken from remote")
	}
}

// TestMergeSettings_Nil verifies nil inputs.
func TestMergeSettings_Nil(t *testing.T) {
	got := MergeSettings(nil, nil)
	if got == nil || len(got) != 0 {
		t.Errorf("MergeSettings(nil, nil) = %v, want empty", got)
	}
}

// TestPurgeExpiredTombstones verifies retention-based removal.
func TestPurgeExpiredTombstones(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := schema.FormatTime(now.AddDate(0, 0, -100))
	recent := schema.FormatTime(now.AddDate(0, 0, -10))

	data := doc(
		schema.Record{"id": "expired", "updatedAt": old, "deletedAt": old, "purgedAt": old},
		schema.Record{"id": "recent", "updatedAt": recent, "deletedAt": recent, "purgedAt": recent},
		schema.Record{"id": "no-purge", "updatedAt": old, "deletedAt": old},
		schema.Record{"id": "live", "updatedAt": old, "purgedAt": old},
		schema.Record{"id": "bad-purge", "updatedAt": old, "deletedAt": old, "purgedAt": "??"},
	)

	got, removed := PurgeExpiredTombstones(data, now, 90)

	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := schema.FindByID(got.Tasks, "expired"); ok {
		t.Error("expired tombstone should be purged")
	}
	if len(got.Tasks) != 4 {
		t.Errorf("kept %d tasks, want 4", len(got.Tasks))
	}
	if len(data.Tasks) != 5 {
		t.Error("input should not be modified")
	}
}

// TestResolveRetentionDays verifies clamping.
func TestResolveRetentionDays(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultTombstoneRetentionDays},
		{-5, DefaultTombstoneRetentionDays},
		{1, 1},
		{30, 30},
		{99999, MaxTombstoneRetentionDays},
	}
	for _, tt := range tests {
		if got := ResolveRetentionDays(tt.in); got != tt.want {
			t.Errorf("ResolveRetentionDays(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// TestSanitizeForRemote verifies which settings leave the device.
func TestSanitizeForRemote(t *testing.T) {
	data := doc(task("t1", "a", t1))
	data.Settings = schema.Settings{
		"theme":              "dark",
		"language":           "en",
		schema.KeyDeviceID:   "device-a",
		schema.KeyLastSyncAt: t1,
		schema.KeySyncPreferences: map[string]any{
			GroupAppearance: true,
			GroupAI:         true,
		},
		"ai": map[string]any{
			"provider":     "openai",
			"apiKey":       "secret",
			"speechToText": map[string]any{"offlineModelPath": "/models/x", "provider": "whisper"},
		},
	}

	got := SanitizeForRemote(data)

	if got.Settings.String("theme") != "dark" {
		t.Error("appearance group is enabled and should be sent")
	}
	for _, key := range []string{"language", schema.KeyDeviceID, schema.KeyLastSyncAt} {
		if _, ok := got.Settings[key]; ok {
			t.Errorf("%s should not be sent", key)
		}
	}
	ai := got.Settings.Object("ai")
	if _, ok := ai["apiKey"]; ok {
		t.Error("apiKey should not be sent")
	}
	stt, _ := ai["speechToText"].(map[string]any)
	if _, ok := stt["offlineModelPath"]; ok {
		t.Error("offlineModelPath should not be sent")
	}
	if len(got.Tasks) != 1 {
		t.Error("records should be sent unchanged")
	}
	if _, ok := data.Settings.Object("ai")["apiKey"]; !ok {
		t.Error("input settings should not be modified")
	}
}
