package llmcorrect

import "strings"

// hunk is a run of tokens that differs between two token sequences.
type hunk struct {
	from, to []string
}

// diff aligns a and b on their longest common subsequence. The result
// alternates hunks and common tokens: hunks[0], common[0], hunks[1], ...,
// hunks[len(common)]. Hunks may be empty.
func diff(a, b []string) (hunks []hunk, common []string) {
	m, n := len(a), len(b)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var cur hunk
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case a[i] == b[j]:
			hunks = append(hunks, cur)
			common = append(common, a[i])
			cur = hunk{}
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			cur.from = append(cur.from, a[i])
			i++
		default:
			cur.to = append(cur.to, b[j])
			j++
		}
	}
	cur.from = append(cur.from, a[i:]...)
	cur.to = append(cur.to, b[j:]...)
	hunks = append(hunks, cur)
	return hunks, common
}

func lookupKey(tokens []string) string {
	return strings.ToLower(strings.TrimRight(strings.Join(tokens, " "), ".,;:!?\"')"))
}

// keepDeclared applies to original only those edits of corrected that appear
// in declared. Undeclared edits are reverted. It returns the resulting text
// and the declared corrections that were applied.
func keepDeclared(original, corrected string, declared []Correction) (string, []Correction) {
	if original == corrected {
		return original, nil
	}
	byEdit := make(map[[2]string]Correction, len(declared))
	for _, c := range declared {
		byEdit[[2]string{lookupKey(strings.Fields(c.Original)), lookupKey(strings.Fields(c.Corrected))}] = c
	}

	hunks, common := diff(strings.Fields(original), strings.Fields(corrected))
	var (
		out     []string
		applied []Correction
	)
	for i, h := range hunks {
		if len(h.from) > 0 || len(h.to) > 0 {
			if c, ok := byEdit[[2]string{lookupKey(h.from), lookupKey(h.to)}]; ok {
				out = append(out, h.to...)
				applied = append(applied, c)
			} else {
				out = append(out, h.from...)
			}
		}
		if i < len(common) {
			out = append(out, common[i])
		}
	}
	return strings.Join(out, " "), applied
}
