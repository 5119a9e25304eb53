package tokens

import "unicode/utf8"

// DefaultCharsPerToken is the common English approximation used when no BPE
// tables are available.
const DefaultCharsPerToken = 4

// Heuristic estimates tokens as ceil(runes / CharsPerToken). It never fails
// and is good enough for threshold comparison, not for billing.
type Heuristic struct {
	CharsPerToken int
}

// Count implements Counter.
func (h Heuristic) Count(text string) (int, error) {
	per := h.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0, nil
	}
	return (runes + per - 1) / per, nil
}

var _ Counter = Heuristic{}
