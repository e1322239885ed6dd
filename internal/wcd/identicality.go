package wcd

import "bytes"

// Identical reports whether two response bodies fetched via a normal
// client are the same, within a configurable byte-difference budget.
// When true, the endpoint is dynamic-free from the attacker's
// perspective and no further WCD inference is possible for this
// (mode, extension) — the caller should skip it.
func Identical(body1, body2 []byte, maxDiffBytes int) bool {
	if len(body1) != len(body2) {
		if abs(len(body1)-len(body2)) > maxDiffBytes {
			return false
		}
	}
	if maxDiffBytes <= 0 {
		return bytes.Equal(body1, body2)
	}

	diff := 0
	n := len(body1)
	if len(body2) < n {
		n = len(body2)
	}
	for i := 0; i < n; i++ {
		if body1[i] != body2[i] {
			diff++
			if diff > maxDiffBytes {
				return false
			}
		}
	}
	diff += abs(len(body1) - len(body2))
	return diff <= maxDiffBytes
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
