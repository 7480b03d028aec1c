package tubcrawl

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/aksel-berge/tubcrawl/mlrelevance"
	"golang.org/x/net/publicsuffix"
)

// URL is the tubcrawl URL value object: a normalized URL plus the
// link-context fields and cached token projections spec §4.1 describes.
// It is never persisted on its own; the master/store layer turns it into a
// Job row. All derived fields are memoized per instance the first time
// they're asked for (spec §9: "ORM-level cached properties... become...
// per-instance memoization, not module-global").
type URL struct {
	Raw string // normalized absolute URL

	AnchorText      string
	SurroundingText string
	TitleText       string

	parsed *url.URL

	urlTokensCache         []string
	anchorTokensCache      []string
	surroundingTokensCache []string
	titleTokensCache       []string
	tokensComputed         bool
}

// normalizeFlags are the purell flags applied to every URL: lower-case
// scheme/host, remove default ports, sort query params, and NFC-normalize
// percent-encoding, per spec §4.1 Normalize.
const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagEncodeNecessaryEscapes |
	purell.FlagSortQuery

// Normalize resolves raw against parent (which may be nil for an already
// absolute URL), strips the fragment, and canonicalizes scheme/host/
// percent-encoding. It fails with a KindMalformedURL CrawlError when raw
// does not resolve to an absolute http(s) URL.
func Normalize(raw string, parent *url.URL) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newCrawlError(KindMalformedURL, "Normalize", fmt.Errorf("empty URL"))
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, newCrawlError(KindMalformedURL, "Normalize", err)
	}
	if parent != nil {
		parsed = parent.ResolveReference(parsed)
	}
	if !parsed.IsAbs() {
		return nil, newCrawlError(KindMalformedURL, "Normalize", fmt.Errorf("not absolute: %v", raw))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, newCrawlError(KindMalformedURL, "Normalize", fmt.Errorf("unsupported scheme: %v", parsed.Scheme))
	}

	normalized := purell.NormalizeURL(parsed, normalizeFlags)
	parsed, err = url.Parse(normalized)
	if err != nil {
		return nil, newCrawlError(KindMalformedURL, "Normalize", err)
	}
	return parsed, nil
}

// NewURL builds a URL value object from a raw link plus the link-context
// fields harvested around it (anchor text, surrounding body text, enclosing
// page title). parent, when non-nil, resolves a relative raw URL.
func NewURL(raw string, parent *url.URL, anchorText, surroundingText, titleText string) (*URL, error) {
	parsed, err := Normalize(raw, parent)
	if err != nil {
		return nil, err
	}
	return &URL{
		Raw:             parsed.String(),
		AnchorText:      humanize(anchorText),
		SurroundingText: humanize(surroundingText),
		TitleText:       humanize(titleText),
		parsed:          parsed,
	}, nil
}

func (u *URL) ensureTokens() {
	if u.tokensComputed {
		return
	}
	u.urlTokensCache = urlTokens(u.Raw)
	u.anchorTokensCache = tokenize(u.AnchorText)
	u.surroundingTokensCache = tokenize(u.SurroundingText)
	u.titleTokensCache = tokenize(u.TitleText)
	u.tokensComputed = true
}

// URLTokens returns the tokenized URL path/host, cached after first call.
func (u *URL) URLTokens() []string {
	u.ensureTokens()
	return u.urlTokensCache
}

// AnchorTextTokens returns the tokenized anchor text.
func (u *URL) AnchorTextTokens() []string {
	u.ensureTokens()
	return u.anchorTokensCache
}

// SurroundingTextTokens returns the tokenized surrounding-body-text window.
func (u *URL) SurroundingTextTokens() []string {
	u.ensureTokens()
	return u.surroundingTokensCache
}

// TitleTextTokens returns the tokenized enclosing-page title.
func (u *URL) TitleTextTokens() []string {
	u.ensureTokens()
	return u.titleTokensCache
}

// ServerName is the registered domain (stripped of a leading "www.") plus
// public suffix, e.g. "example.com" for "https://www.example.com/a".
func (u *URL) ServerName() string {
	host := strings.TrimPrefix(u.parsed.Hostname(), "www.")
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// Extension returns the file extension of the URL path, e.g. ".pdf".
func (u *URL) Extension() string {
	return strings.ToLower(path.Ext(u.parsed.Path))
}

// IsHTTPLike reports whether the scheme is http or https.
func (u *URL) IsHTTPLike() bool {
	return u.parsed.Scheme == "http" || u.parsed.Scheme == "https"
}

// IsHyperlink reports whether the URL has both a scheme and a host, i.e. is
// usable as an absolute link target.
func (u *URL) IsHyperlink() bool {
	return u.parsed.Scheme != "" && u.parsed.Host != ""
}

// IsHTMLSite reports whether the URL's extension is not in the configured
// media-extension exclusion set. An unknown/empty extension is treated as
// html-like (spec §4.1 edge case).
func (u *URL) IsHTMLSite() bool {
	ext := u.Extension()
	if ext == "" {
		return true
	}
	for _, excluded := range Config.Relevance.ExcludedExtensions {
		if ext == excluded {
			return false
		}
	}
	return true
}

// ContainsBlockedPattern reports whether any configured blocked substring
// appears in the URL (spec §4.1 Contains blocked pattern).
func (u *URL) ContainsBlockedPattern() bool {
	return containsAny(u.Raw, Config.Relevance.BlockedPatterns)
}

// ContainsBonusPattern reports whether the URL matches the configured
// seed/bonus substring list, which grants a large priority bonus.
func (u *URL) ContainsBonusPattern() bool {
	return containsAny(u.Raw, Config.Relevance.BonusPatterns) || containsAny(u.Raw, Config.Relevance.SeedPatterns)
}

// IsAlwaysKeep reports whether the URL matches the configured always-keep
// list, which bypasses document-relevance language/topic checks (spec
// §4.3, Glossary).
func (u *URL) IsAlwaysKeep() bool {
	return containsAny(u.Raw, Config.Relevance.AlwaysKeep)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// countTopicOccurrences counts, across tokens, how many contain any
// configured topic writing-style variant (e.g. "tubingen", "tuebingen").
func countTopicOccurrences(tokens []string) int {
	count := 0
	for _, tok := range tokens {
		for _, style := range Config.Relevance.TopicWritingStyles {
			if style != "" && strings.Contains(tok, style) {
				count++
			}
		}
	}
	return count
}

// countEnglishIndicator counts URL-path segments that look like an English
// locale marker ("/en/", ".en.", etc.), per spec §4.1's English-indicator
// path-segment rule bonus.
func countEnglishIndicator(tokens []string) int {
	count := 0
	for _, tok := range tokens {
		if tok == "en" || strings.HasPrefix(tok, "en") && len(tok) <= 3 {
			count++
		}
	}
	return count
}

// Priority computes the URL's scalar crawl priority (spec §4.1 Priority).
// Blocked, non-html-shaped, or non-hyperlink URLs always score -1. Otherwise
// the ML classifier contributes the dominant term (scaled by 30, matching
// the documented score formula), with small rule bonuses for topic/English
// indicators and a large bonus for seed/bonus-list membership.
func (u *URL) Priority(classifier mlrelevance.Classifier) float64 {
	if u.ContainsBlockedPattern() {
		return -1
	}
	if !u.IsHTMLSite() || !u.IsHyperlink() {
		return -1
	}

	features := mlrelevance.Features{
		URLTokens:         u.URLTokens(),
		AnchorTextTokens:  u.AnchorTextTokens(),
		SurroundingTokens: u.SurroundingTextTokens(),
		TitleTextTokens:   u.TitleTextTokens(),
		ServerName:        u.ServerName(),
	}

	score := 0.0
	if classifier != nil && classifier.Predict(features) {
		score += 30
	}

	score += 5 * float64(countTopicOccurrences(u.URLTokens()))
	score += 10 * float64(countTopicOccurrences(u.AnchorTextTokens()))
	score += 10 * float64(countTopicOccurrences(u.TitleTextTokens()))
	score += 2 * float64(countTopicOccurrences(u.SurroundingTextTokens()))

	score += 0.5 * float64(countEnglishIndicator(u.URLTokens()))
	score += 0.5 * float64(countEnglishIndicator(u.AnchorTextTokens()))
	score += 0.5 * float64(countEnglishIndicator(u.TitleTextTokens()))

	if u.ContainsBonusPattern() {
		score += 100
	}

	return score
}

// IsRelevant reports whether the URL's priority is non-negative, i.e. the
// frontier would ever schedule it (spec §4.3: "is_relevant <=> priority >=
// 0").
func (u *URL) IsRelevant(classifier mlrelevance.Classifier) bool {
	return u.Priority(classifier) >= 0
}

// JobPriority combines a URL's own priority with its host's importance
// bonus, grounded on
// original_source/crawler/manager/job_relevance.py's
// additional_priority_of_job_by_consider_server_importance: a vetoed URL
// (priority < 0) stays vetoed regardless of host standing, otherwise the
// host bonus is added on top.
func JobPriority(u *URL, classifier mlrelevance.Classifier, hostBonus float64) float64 {
	priority := u.Priority(classifier)
	if priority < 0 {
		return priority
	}
	return priority + hostBonus
}
