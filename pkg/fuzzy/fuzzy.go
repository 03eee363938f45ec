// Package fuzzy holds the typo-tolerant matching used for query suggestions.
package fuzzy

import (
	"strings"
	"unicode"
)

// Normalize lowercases s, folds accents and collapses whitespace. Two queries that
// normalise to the same string are treated as the same suggestion.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = RemoveAccents(s)
	return strings.Join(strings.Fields(s), " ")
}

// LevenshteinDistance returns the number of single-rune edits between a and b.
// Inputs are compared as given; callers normalise first.
func LevenshteinDistance(a, b string) int {
	r1 := []rune(a)
	r2 := []rune(b)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// Tolerance is the edit distance allowed for a query of the given normalised form.
func Tolerance(query string) int {
	n := len([]rune(query))
	switch {
	case n <= 3:
		return 0
	case n <= 5:
		return 1
	case n >= 10:
		return 3
	default:
		return 2
	}
}

// Match reports whether candidate is a typo-tolerant match for query.
// Both are normalised internally.
func Match(query, candidate string) bool {
	q := Normalize(query)
	c := Normalize(candidate)
	if q == "" || c == "" {
		return false
	}
	if strings.Contains(c, q) {
		return true
	}

	tolerance := Tolerance(q)
	if tolerance == 0 {
		return false
	}

	// Compare against the candidate prefix of the same length so partially typed
	// queries still match longer history entries.
	cr := []rune(c)
	qr := []rune(q)
	if len(cr) > len(qr) {
		if LevenshteinDistance(q, string(cr[:len(qr)])) <= tolerance {
			return true
		}
	}

	for _, word := range strings.Fields(c) {
		if LevenshteinDistance(q, word) <= tolerance {
			return true
		}
	}

	return LevenshteinDistance(q, c) <= tolerance
}

// RemoveAccents strips diacritics, mapping Vietnamese vowels to their ASCII base.
func RemoveAccents(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		switch r {
		case 'á', 'à', 'ả', 'ã', 'ạ', 'ă', 'ắ', 'ằ', 'ẳ', 'ẵ', 'ặ', 'â', 'ấ', 'ầ', 'ẩ', 'ẫ', 'ậ':
			result.WriteRune('a')
		case 'é', 'è', 'ẻ', 'ẽ', 'ẹ', 'ê', 'ế', 'ề', 'ể', 'ễ', 'ệ':
			result.WriteRune('e')
		case 'í', 'ì', 'ỉ', 'ĩ', 'ị':
			result.WriteRune('i')
		case 'ó', 'ò', 'ỏ', 'õ', 'ọ', 'ô', 'ố', 'ồ', 'ổ', 'ỗ', 'ộ', 'ơ', 'ớ', 'ờ', 'ở', 'ỡ', 'ợ':
			result.WriteRune('o')
		case 'ú', 'ù', 'ủ', 'ũ', 'ụ', 'ư', 'ứ', 'ừ', 'ử', 'ữ', 'ự':
			result.WriteRune('u')
		case 'ý', 'ỳ', 'ỷ', 'ỹ', 'ỵ':
			result.WriteRune('y')
		case 'đ':
			result.WriteRune('d')
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
