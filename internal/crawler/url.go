package crawler

import "regexp"

// urlPattern is deliberately permissive: a scheme followed by any run of
// non-whitespace, trailing punctuation included.
var urlPattern = regexp.MustCompile(`https?://[^\s\p{Z}]+`)

// ExtractURLs returns every absolute http(s) URL token in text, in order of
// appearance. Repeated URLs are kept.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}

// UniqueURLs returns urls with later repeats removed.
func UniqueURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
