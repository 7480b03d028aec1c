package tubcrawl

import "strings"

// IsDocumentRelevant implements spec §4.3 Document relevance: the owning
// URL must not be blocked, the body must show English content, and some
// token field (or the raw HTML, as a fallback) must contain a configured
// topic writing-style variant -- unless the URL is on the always-keep list,
// which bypasses the language/topic checks entirely.
func IsDocumentRelevant(sourceURL *URL, doc *Document) bool {
	if sourceURL.ContainsBlockedPattern() {
		return false
	}
	if sourceURL.IsAlwaysKeep() {
		return true
	}

	if !DetectsEnglish(doc.Fields["body"]) {
		return false
	}

	for _, field := range FieldNames {
		if countTopicOccurrences(doc.Tokens[field]) > 0 {
			return true
		}
	}
	return containsTopicSubstring(doc.HTML)
}

func containsTopicSubstring(html string) bool {
	lower := strings.ToLower(html)
	for _, style := range Config.Relevance.TopicWritingStyles {
		if style != "" && strings.Contains(lower, style) {
			return true
		}
	}
	return false
}
