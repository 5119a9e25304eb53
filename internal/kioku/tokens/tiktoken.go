package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// EncodingCL100K is the BPE encoding shared by the GPT-3.5/GPT-4 family and
// the default for OpenAI-compatible endpoints.
const EncodingCL100K = "cl100k_base"

var installLoader sync.Once

// Tiktoken counts tokens with a real BPE encoding. The encoding tables are
// embedded in the binary, so counting never touches the network.
//
// Reserved markers such as "<|endoftext|>" are counted as ordinary text, so
// a reply that quotes one stays countable. Only invalid UTF-8 is rejected.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. An empty name selects cl100k_base.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = EncodingCL100K
	}
	installLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding %q: %w", encoding, err)
	}
	return &Tiktoken{name: encoding, enc: enc}, nil
}

// Encoding returns the name of the loaded encoding.
func (t *Tiktoken) Encoding() string {
	return t.name
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if !utf8.ValidString(text) {
		return 0, fmt.Errorf("%w: invalid UTF-8", ErrEncoding)
	}
	// No allowed or disallowed specials: markers are split like any other text.
	return len(t.enc.Encode(text, nil, nil)), nil
}

var _ Counter = (*Tiktoken)(nil)
