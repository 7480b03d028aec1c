package tubcrawl

import (
	"html"
	"regexp"
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/forPelevin/gomoji"
)

var hyperlinkPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)

var umlautReplacer = strings.NewReplacer(
	"ä", "a", "ö", "o", "ü", "u", "ß", "s",
	"Ä", "a", "Ö", "o", "Ü", "u",
)

// stopWords is a small, topic-agnostic English stop list. The original
// classifier pipeline leaned on spaCy's bundled list (see
// original_source/crawler/utils/text.py); this is a trimmed equivalent
// covering the high-frequency closed-class words that otherwise dominate
// every field's token stream.
var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(
		"a an the and or but if then else for of to in on at by with from " +
			"is are was were be been being this that these those it its as " +
			"not no yes i you he she we they them his her our your their " +
			"which who whom what when where why how all each every both " +
			"few more most other some such only own same so than too very " +
			"can will just should now") {
		stopWords[w] = true
	}
}

// humanize collapses whitespace and folds German umlauts and ß to ASCII
// letters; other non-ASCII characters are left as they are.
func humanize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return umlautReplacer.Replace(s)
}

// tokenize implements spec §4.2's Tokenize operation: lower-case, unescape
// HTML entities, strip URLs, strip emojis, fold German umlauts, drop stop
// words/punctuation/emoji/non-ASCII/digits and tokens of length <=1 or
// at least the configured long-word threshold, and emit lemma+pos tags.
// Go has no bundled spaCy-grade lemmatizer/POS-tagger available in the pack,
// so the "lemma" here is the Porter-stemmed token (github.com/blevesearch/go-porterstemmer,
// the same stemmer bleve's own text analysis pipeline uses) and "pos" is the
// fixed tag "WORD" (all-digit tokens are dropped), which keeps the index/vector-space
// contract (one stable string key per content word) without pulling in the
// out-of-scope ML classifier's NLP stack.
// TokenizeQuery exposes tubcrawl's tokenizer to callers outside the package
// (notably ranker), so a search query is tokenized identically to how
// document fields were tokenized at index time.
func TokenizeQuery(text string) []string {
	return tokenize(text)
}

func tokenize(text string) []string {
	longWordThreshold := Config.Relevance.LongWordThreshold
	if longWordThreshold == 0 {
		longWordThreshold = 25
	}

	text = strings.ToLower(text)
	text = html.UnescapeString(text)
	text = hyperlinkPattern.ReplaceAllString(text, "")
	text = umlautReplacer.Replace(text)
	text = gomoji.RemoveEmojis(text)

	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '_' || isWordRune(r))
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 || len(f) >= longWordThreshold {
			continue
		}
		if stopWords[f] {
			continue
		}
		if !isASCII(f) {
			continue
		}
		if isAllDigits(f) {
			continue
		}
		tokens = append(tokens, porterstemmer.StemString(f)+"_WORD")
	}
	return tokens
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// urlTokens tokenizes a URL string into its path/host segments, matching
// spec §4.1's "token lists for URL path". Unlike tokenize, punctuation is
// the natural separator and no stop-word filtering applies.
func urlTokens(u string) []string {
	return strings.FieldsFunc(strings.ToLower(u), func(r rune) bool {
		return !isWordRune(r)
	})
}
