package tubcrawl

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pemistahl/lingua-go"
)

// FieldNames enumerates every text field a Document carries, in the order
// spec §4.2/§4.9 list them: title, the three meta fields, h1..h6, and body.
var FieldNames = []string{
	"title", "meta_description", "meta_keywords", "meta_author",
	"h1", "h2", "h3", "h4", "h5", "h6", "body",
}

// Document is the structured result of fetching and parsing a URL (spec
// §3). It is created once per successful fetch and, other than the
// Relevant flag, is not mutated after insert.
type Document struct {
	ID       int64
	JobID    int64
	HTML     string
	Relevant bool

	Fields map[string]string   // field name -> humanized text
	Tokens map[string][]string // field name -> tokens
}

var stripPolicy = bluemonday.StrictPolicy()

var languageDetector = lingua.NewLanguageDetectorBuilder().
	FromLanguages(lingua.English, lingua.German, lingua.French, lingua.Spanish, lingua.Italian).
	Build()

// ExtractDocument builds a Document from raw HTML. It never fails: on a
// parse error it returns an empty Document with every field blank, per spec
// §4.2's "Guarantees: deterministic... never fails" contract.
func ExtractDocument(html string) *Document {
	doc := &Document{
		HTML:   html,
		Fields: map[string]string{},
		Tokens: map[string][]string{},
	}

	root, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		for _, f := range FieldNames {
			doc.Fields[f] = ""
			doc.Tokens[f] = nil
		}
		return doc
	}

	doc.Fields["title"] = humanize(stripPolicy.Sanitize(root.Find("title").First().Text()))
	doc.Fields["meta_description"] = humanize(metaContent(root, "description"))
	doc.Fields["meta_keywords"] = humanize(metaContent(root, "keywords"))
	doc.Fields["meta_author"] = humanize(metaContent(root, "author"))
	for i := 1; i <= 6; i++ {
		tag := "h" + string(rune('0'+i))
		doc.Fields[tag] = humanize(stripPolicy.Sanitize(joinText(root, tag)))
	}
	doc.Fields["body"] = humanize(stripPolicy.Sanitize(root.Find("body").First().Text()))

	for _, f := range FieldNames {
		doc.Tokens[f] = tokenize(doc.Fields[f])
	}

	return doc
}

func metaContent(root *goquery.Document, name string) string {
	var content string
	root.Find("meta[name='" + name + "']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("content"); ok {
			content = v
			return false
		}
		return true
	})
	return content
}

func joinText(root *goquery.Document, tag string) string {
	var parts []string
	root.Find(tag).Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	return strings.Join(parts, " ")
}

// DetectsEnglish reports whether text contains English content with enough
// confidence to pass spec §4.2/§4.3's language-detection gate. When more
// than one language is plausible for the text, the multi-language threshold
// applies instead of the single-language one (spec §4.3 item 2).
func DetectsEnglish(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	confidences := languageDetector.ComputeLanguageConfidenceValues(text)
	if len(confidences) == 0 {
		return false
	}

	plausible := 0
	var englishConfidence float64
	found := false
	for _, c := range confidences {
		if c.Value() > 0 {
			plausible++
		}
		if c.Language() == lingua.English {
			englishConfidence = c.Value()
			found = true
		}
	}
	if !found {
		return false
	}
	if plausible > 1 {
		return englishConfidence >= (1.0/float64(plausible) + Config.Relevance.EnglishThresholdMulti)
	}
	return englishConfidence >= Config.Relevance.EnglishThresholdSingle
}
