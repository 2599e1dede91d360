package detection

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeBase64Image(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes!")
	std := base64.StdEncoding.EncodeToString(payload)
	raw := base64.RawStdEncoding.EncodeToString(payload)

	tests := []struct {
		name  string
		input string
	}{
		{"standard", std},
		{"unpadded", raw},
		{"data url", "data:image/png;base64," + std},
		{"wrapped lines", std[:8] + "\n" + std[8:16] + "\r\n " + std[16:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64Image(tt.input)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestDecodeBase64ImageRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "   ", "not base64 at all!!", "data:image/png;base64,"} {
		_, err := DecodeBase64Image(input)
		require.ErrorIs(t, err, ErrInvalidBase64, "input %q", input)
	}
}
