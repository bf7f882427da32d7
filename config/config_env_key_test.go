package config

import "testing"

func TestCanonicalizeEnvKey_UsesExistingCamelCaseKeys(t *testing.T) {
	existing := map[string]any{
		"presence": map[string]any{
			"vendorTimeout": "90s",
			"writeThroughBackoff": map[string]any{
				"initial": "200ms",
			},
		},
		"geo": map[string]any{
			"maxRadiusKm": 50.0,
		},
		"auth": map[string]any{
			"vendorTokenSecret": "",
		},
	}

	tests := []struct {
		envKey string
		want   string
	}{
		{envKey: "PRESENCE_VENDORTIMEOUT", want: "presence.vendorTimeout"},
		{envKey: "PRESENCE_WRITETHROUGHBACKOFF_INITIAL", want: "presence.writeThroughBackoff.initial"},
		{envKey: "GEO_MAXRADIUSKM", want: "geo.maxRadiusKm"},
		{envKey: "AUTH_VENDORTOKENSECRET", want: "auth.vendorTokenSecret"},
		{envKey: "NEW_FEATURE_FLAG", want: "new.feature.flag"},
	}

	for _, tt := range tests {
		t.Run(tt.envKey, func(t *testing.T) {
			if got := canonicalizeEnvKey(tt.envKey, existing); got != tt.want {
				t.Fatalf("canonicalizeEnvKey(%q) = %q, want %q", tt.envKey, got, tt.want)
			}
		})
	}
}
