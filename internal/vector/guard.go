package vector

// guard drops the focus row and repeated ids from ranked matches and caps the result at k.
func guard(focusID string, k int, matches []Match) []Match {
	if k <= 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		id := m.Document.ID
		if id == focusID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out
}
