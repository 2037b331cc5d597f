package webclient

import "strings"

// Some sites refuse requests without a Referer from their own landing
// pages. The values below are the exact strings the sites accept.
const (
	getchuReferer = "http://www.getchu.com/top.html"
	xcityReferer  = "https://xcity.jp/result_published/?genre=%2Fresult_published%2F&q=2&sg=main&num=60"
	javbusReferer = "https://www.javbus.com/"
	gigaReferer   = "https://www.giga-web.jp/top.html"
)

// injectReferer sets a site-specific Referer header when the URL needs
// one. Existing Referer values are overwritten; the sites check the
// exact value.
func injectReferer(url string, headers map[string]string) {
	switch {
	case strings.Contains(url, "getchu"):
		headers["Referer"] = getchuReferer
	case strings.Contains(url, "xcity"):
		headers["Referer"] = xcityReferer
	case strings.Contains(url, "javbus"):
		headers["Referer"] = javbusReferer
	case strings.Contains(url, "giga") && !strings.Contains(url, "cookie_set.php"):
		headers["Referer"] = gigaReferer
	}
}
