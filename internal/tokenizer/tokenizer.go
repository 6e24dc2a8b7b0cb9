// Package tokenizer is the trivial byte-level stand-in for the real
// tokenizer, which lives outside this firmware. Token ids below 128 are
// the byte itself; everything else renders as a bracketed id.
package tokenizer

import "fmt"

// Encode maps prompt bytes to token ids one-to-one.
func Encode(text []byte) []uint32 {
	tokens := make([]uint32, len(text))
	for i, b := range text {
		tokens[i] = uint32(b)
	}
	return tokens
}

// Decode renders a single token for the console stream.
func Decode(token uint32) string {
	if token < 128 {
		return string(rune(token))
	}
	return fmt.Sprintf("[T%d]", token)
}
