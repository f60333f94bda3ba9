package util

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	reSpaces      = regexp.MustCompile(`\s+`)
	reSupplierKey = regexp.MustCompile(`[^a-z0-9]`)
)

// NormalizeSupplierKey lower-cases a supplier name and strips everything
// outside [a-z0-9], so "ACME Corp." and "acme-corp" share one history.
func NormalizeSupplierKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	return reSupplierKey.ReplaceAllString(s, "")
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// Tokenize lower-cases the input, treats any non letter/digit rune as a
// separator and returns the remaining words in their original order.
func Tokenize(input string) []string {
	return strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func SortedTokens(input string) string {
	tokens := Tokenize(input)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// TokenSortRatio scores two strings 0-100 after sorting their tokens, so word
// order does not matter. The score is the Indel similarity of the sorted
// strings: 100 * (la + lb - indel) / (la + lb), where indel counts the
// insertions and deletions needed to turn one into the other.
func TokenSortRatio(a, b string) int {
	return SortedRatio(SortedTokens(a), SortedTokens(b))
}

// SortedRatio is TokenSortRatio for inputs that already went through SortedTokens.
func SortedRatio(sa, sb string) int {
	if sa == "" || sb == "" {
		return 0
	}
	if sa == sb {
		return 100
	}

	ra, rb := []rune(sa), []rune(sb)
	total := len(ra) + len(rb)
	// indel = total - 2*lcs, so the similarity reduces to 2*lcs/total.
	lcs := longestCommonSubsequence(ra, rb)
	return (200*lcs + total/2) / total
}

func longestCommonSubsequence(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func StringPtr(v string) *string {
	return &v
}

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
