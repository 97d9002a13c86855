package classifier

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "i": {}, "me": {}, "my": {}, "is": {}, "are": {}, "am": {},
	"be": {}, "to": {}, "of": {}, "and": {}, "or": {}, "in": {}, "on": {}, "it": {}, "this": {},
	"that": {}, "you": {}, "your": {}, "we": {}, "our": {}, "can": {}, "please": {},
}

// words lowercases text and splits it on anything that is not a letter or digit
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stem(word string) string {
	return english.Stem(word, false)
}

// tokenize produces the stemmed feature tokens used by the intent model
func tokenize(text string) []string {
	raw := words(text)
	tokens := make([]string, 0, len(raw))
	for _, w := range raw {
		if _, skip := stopwords[w]; skip {
			continue
		}
		tokens = append(tokens, stem(w))
	}
	return tokens
}
