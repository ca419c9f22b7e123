package transcription

import "strings"

var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
	"turkish":    "tr",
	"polish":     "pl",
	"ukrainian":  "uk",
	"swedish":    "sv",
}

// LanguageCode maps a settings language name to its ISO 639-1 code.
// Empty or "auto" means detect; unknown two-letter codes pass through.
func LanguageCode(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if l == "" || l == "auto" {
		return ""
	}
	if code, ok := languageCodes[l]; ok {
		return code
	}
	if len(l) == 2 {
		return l
	}
	return ""
}
