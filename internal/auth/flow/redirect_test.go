package flow

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeRedirect(t *testing.T) {
	base, err := url.Parse("https://app.example.com/")
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		want   string
		ok     bool
	}{
		{"absolute path", "/account?tab=1#top", "/account?tab=1#top", true},
		{"bare relative", "account", "/account", true},
		{"same origin", "https://app.example.com/x", "https://app.example.com/x", true},
		{"same origin mixed case host", "https://APP.example.com/x", "https://APP.example.com/x", true},
		{"foreign host", "https://evil.example/x", "", false},
		{"scheme downgrade", "http://app.example.com/x", "", false},
		{"scheme relative", "//evil.example/x", "", false},
		{"backslash host", "/\\evil.example", "", false},
		{"javascript", "javascript:alert(1)", "", false},
		{"opaque https", "https:evil.example", "", false},
		{"userinfo", "https://app.example.com@evil.example/", "", false},
		{"header injection", "/x\r\nSet-Cookie: a=b", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeRedirect(base, tt.target)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
