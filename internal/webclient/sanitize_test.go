package webclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		sanitized bool
	}{
		{"clean", "https://www.dmm.co.jp/search/", "https://www.dmm.co.jp/search/", false},
		{"leading space", "  https://missav.ws/abc-123 ", "https://missav.ws/abc-123", false},
		{"quote pollution", `https://x.com?a=1">https://x.com?a=1`, "https://x.com?a=1", true},
		{"angle bracket", "https://x.com/a<b", "https://x.com/a", true},
		{"no scheme", "www.example.com/page", "www.example.com/page", false},
		{"empty", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, sanitized := SanitizeURL(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.sanitized, sanitized)
		})
	}
}

func TestInjectReferer(t *testing.T) {
	h := map[string]string{}
	injectReferer("http://www.getchu.com/soft.phtml?id=1", h)
	assert.Equal(t, getchuReferer, h["Referer"])

	h = map[string]string{}
	injectReferer("https://www.javbus.com/ABC-123", h)
	assert.Equal(t, javbusReferer, h["Referer"])

	h = map[string]string{}
	injectReferer("https://www.giga-web.jp/cookie_set.php", h)
	assert.Empty(t, h["Referer"])

	h = map[string]string{}
	injectReferer("https://www.giga-web.jp/detail?id=1", h)
	assert.Equal(t, gigaReferer, h["Referer"])

	h = map[string]string{}
	injectReferer("https://www.mgstage.com/product/", h)
	assert.Empty(t, h)
}
