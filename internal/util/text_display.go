package util

import (
	"sort"
	"strings"
	"unicode"
)

// Snippet trims a description for API responses.
func Snippet(s string, maxRunes int) string {
	return trimClean(s, maxRunes)
}

// MatchingSnippet picks the description sentence(s) sharing the most terms
// with query. Falls back to the leading text when nothing matches.
func MatchingSnippet(description, query string, maxRunes int) string {
	description = trimClean(description, 4000)
	if description == "" {
		return ""
	}
	terms := queryTerms(query)
	sentences := splitSentences(description)
	if len(terms) == 0 || len(sentences) == 0 {
		return trimClean(description, maxRunes)
	}

	type scored struct {
		idx   int
		text  string
		score int
	}
	list := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		score := 0
		for _, term := range terms {
			if strings.Contains(low, term) {
				score++
			}
		}
		list = append(list, scored{idx: i, text: s, score: score})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score == list[j].score {
			return list[i].idx < list[j].idx
		}
		return list[i].score > list[j].score
	})
	if list[0].score == 0 {
		return trimClean(description, maxRunes)
	}
	return trimClean(list[0].text, maxRunes)
}

func splitSentences(s string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(b.String()); x != "" {
				out = append(out, x)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

func queryTerms(s string) []string {
	stop := map[string]struct{}{
		"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "about": {}, "into": {},
		"that": {}, "this": {}, "book": {}, "books": {}, "novel": {},
	}
	seen := map[string]struct{}{}
	terms := make([]string, 0, 4)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len(f) < 3 {
			continue
		}
		if _, ok := stop[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func trimClean(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 280
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			out = append(out, r)
		}
	}
	runes := []rune(strings.TrimSpace(string(out)))
	if len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return string(runes)
}
