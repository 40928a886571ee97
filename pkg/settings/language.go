package settings

import "strings"

// LanguageAuto lets the voice backend detect the spoken language.
const LanguageAuto = "auto"

// languages maps a user preference to the transport language code.
var languages = map[string]string{
	LanguageAuto: "",
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"hindi":      "hi",
	"arabic":     "ar",
	"russian":    "ru",
	"turkish":    "tr",
}

// TransportLanguage maps a language preference to the code passed on
// connect. Both names ("spanish") and codes ("es") are accepted. "auto"
// and the empty string map to "". The bool is false for unknown
// preferences.
func TransportLanguage(pref string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(pref))
	if p == "" {
		return "", true
	}
	if code, ok := languages[p]; ok {
		return code, true
	}
	for _, code := range languages {
		if code != "" && code == p {
			return code, true
		}
	}
	return "", false
}

// Languages returns the accepted preference names.
func Languages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	return names
}
