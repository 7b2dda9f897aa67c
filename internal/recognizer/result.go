package recognizer

// TextRegion is one recognized piece of text and the polygon enclosing it.
type TextRegion struct {
	Text  string
	Poly  [][2]int
	Score float64
}

// RegionsResult builds the PaddleOCR-compatible shape
//
//	{"res": {"rec_texts": [...], "rec_polys": [...], "rec_scores": [...]}}
//
// so existing Paddle clients can read results from any region backend.
// No regions yields {}.
func RegionsResult(regions []TextRegion) Result {
	if len(regions) == 0 {
		return Result{}
	}
	texts := make([]string, 0, len(regions))
	polys := make([][][2]int, 0, len(regions))
	scores := make([]float64, 0, len(regions))
	for _, r := range regions {
		texts = append(texts, r.Text)
		polys = append(polys, r.Poly)
		scores = append(scores, r.Score)
	}
	return Result{"res": map[string]any{
		"rec_texts":  texts,
		"rec_polys":  polys,
		"rec_scores": scores,
	}}
}

// TextResult builds {"text": text} for whole-image text backends.
func TextResult(text string) Result {
	return Result{"text": text}
}

// Prompt returns the instruction sent to LLM-style backends.
func Prompt(translate bool) string {
	if translate {
		return "Traduce el texto en la imagen al español, solo responde con la traducción"
	}
	return "Extrae cualquier texto visible en esta imagen. Responde únicamente con el texto extraído."
}
