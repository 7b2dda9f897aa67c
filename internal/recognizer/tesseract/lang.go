// Package tesseract recognizes text with a linked libtesseract through
// gosseract. The engine is only compiled in with the "tesseract" build tag,
// because it needs cgo and the Tesseract headers.
package tesseract

import "strings"

// isoToTesseract maps the short codes used elsewhere in the config to
// Tesseract traineddata names.
var isoToTesseract = map[string]string{
	"en": "eng",
	"es": "spa",
	"fr": "fra",
	"de": "deu",
	"it": "ita",
	"pt": "por",
	"ja": "jpn",
	"ko": "kor",
	"zh": "chi_sim",
}

// Languages converts a comma or plus separated language list, e.g. "es,en",
// into Tesseract names. Unknown entries pass through unchanged.
func Languages(lang string) []string {
	fields := strings.FieldsFunc(lang, func(r rune) bool { return r == ',' || r == '+' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if t, ok := isoToTesseract[f]; ok {
			f = t
		}
		out = append(out, f)
	}
	return out
}
