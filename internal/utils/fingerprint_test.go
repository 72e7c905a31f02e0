package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateDeviceFingerprint(t *testing.T) {
	a := GenerateDeviceFingerprint("Mozilla/5.0", "en-US", "gzip")
	b := GenerateDeviceFingerprint("Mozilla/5.0", "en-US", "gzip")
	c := GenerateDeviceFingerprint("Mozilla/5.0", "de-DE", "gzip")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	// separators keep shifted fields apart
	assert.NotEqual(t, GenerateDeviceFingerprint("ab", "c", ""), GenerateDeviceFingerprint("a", "bc", ""))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2", "X-Real-IP": "3.3.3.3"}, "9.9.9.9:1234", "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1", "X-Real-IP": "3.3.3.3"}, "9.9.9.9:1234", "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "9.9.9.9:1234", "3.3.3.3"},
		{"socket peer", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"peer without port", nil, "9.9.9.9", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
