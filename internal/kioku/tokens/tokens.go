// Package tokens measures text in model tokens. The budget that drives
// conversation compaction is expressed in these units, so every counter must
// be deterministic: the same text always yields the same count.
package tokens

import "errors"

// ErrEncoding is returned when text cannot be tokenized. It is fatal to the
// operation that triggered the count and is never retried.
var ErrEncoding = errors.New("tokens: text cannot be encoded")

// Counter maps text to a non-negative token count.
type Counter interface {
	Count(text string) (int, error)
}

// Sum returns the total token count of texts, stopping at the first error.
func Sum(c Counter, texts ...string) (int, error) {
	total := 0
	for _, t := range texts {
		n, err := c.Count(t)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
