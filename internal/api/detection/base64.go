package detection

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
)

// DecodeBase64Image unwraps a base64 image envelope. Data URLs
// ("data:image/png;base64,...") and embedded whitespace are accepted, with or
// without padding.
func DecodeBase64Image(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidBase64)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
		}
	}

	return data, nil
}
