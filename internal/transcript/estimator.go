package transcript

import "unicode/utf8"

// EstimateTokens approximates the token count of text. English prose averages
// roughly four characters per token; multi-byte runes (CJK, emoji) run closer
// to one token per rune, so they are weighted separately.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ascii := 0
	wide := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if size > 1 && r != utf8.RuneError {
			wide++
		} else {
			ascii++
		}
		i += size
	}
	n := ascii/4 + wide
	if n == 0 {
		n = 1
	}
	return n
}
