// Package tokenizer normalises cleaned document text into terms. The corpus
// is pre-cleaned upstream, so tokenisation is whitespace splitting plus
// lower-casing; positions are word offsets within the document.
package tokenizer

import "strings"

// Token is a single normalised term and its word position in the document.
type Token struct {
	Term     string
	Position uint32
}

// Tokenize splits text on whitespace and lower-cases each term. Position
// counts every emitted token starting at 0.
func Tokenize(text string) []Token {
	words := strings.Fields(text)
	tokens := make([]Token, 0, len(words))
	for i, word := range words {
		tokens = append(tokens, Token{
			Term:     strings.ToLower(word),
			Position: uint32(i),
		})
	}
	return tokens
}

// Terms returns just the normalised terms of text, in order.
func Terms(text string) []string {
	words := strings.Fields(text)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}
