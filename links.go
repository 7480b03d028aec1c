package tubcrawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HarvestLinks extracts every <a href> from html, resolving each against
// pageURL and attaching anchor text, title attribute, and a window of
// surrounding body text (spec §4.1 Extract features, grounded on
// original_source's URL.get_links). Links that fail to normalize (spec
// §4.1 MalformedURL) are silently skipped, matching spec §4.2's
// never-fails extraction contract.
func HarvestLinks(html string, pageURL *url.URL) []*URL {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	bodyText := humanize(root.Find("body").First().Text())
	window := Config.Relevance.SurroundingTextChars
	if window == 0 {
		window = 120
	}

	var links []*URL
	root.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		anchorText := s.Text()
		titleText, _ := s.Attr("title")
		surrounding := surroundingText(bodyText, humanize(anchorText), window)

		u, err := NewURL(href, pageURL, anchorText, surrounding, titleText)
		if err != nil {
			return
		}
		links = append(links, u)
	})
	return links
}

// surroundingText returns up to window characters of body before and after
// the first occurrence of anchor, or "" if anchor does not appear verbatim
// (e.g. it came from nested markup body.Text() collapsed differently).
func surroundingText(body, anchor string, window int) string {
	if anchor == "" {
		return ""
	}
	idx := strings.Index(body, anchor)
	if idx == -1 {
		return ""
	}
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + len(anchor) + window
	if end > len(body) {
		end = len(body)
	}
	return body[start:end]
}
