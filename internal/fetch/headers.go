package fetch

import (
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
)

// userAgents is the rotation table for browser-like requests.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// browserHeaders generates realistic browser headers for one attempt. A
// fresh random user agent is chosen per call; the Referer is derived from
// the target host to get past hotlink protection.
func browserHeaders(rawURL string) http.Header {
	ua := userAgents[rand.IntN(len(userAgents))]

	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	// Accept-Encoding is left to the transport; setting it manually would
	// disable Go's transparent gzip decompression.
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")

	if u, err := url.Parse(rawURL); err == nil {
		host := u.Hostname()
		if host != "" && host != "localhost" && host != "127.0.0.1" {
			h.Set("Referer", u.Scheme+"://"+u.Host+"/")
		}
	}

	switch {
	case strings.Contains(ua, "Chrome"):
		h.Set("Sec-Fetch-Dest", "image")
		h.Set("Sec-Fetch-Mode", "no-cors")
		h.Set("Sec-Fetch-Site", "cross-site")
		h.Set("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
		h.Set("sec-ch-ua-mobile", "?0")
		h.Set("sec-ch-ua-platform", `"Windows"`)
	case strings.Contains(ua, "Firefox"):
		h.Set("Sec-Fetch-Dest", "image")
		h.Set("Sec-Fetch-Mode", "no-cors")
		h.Set("Sec-Fetch-Site", "cross-site")
	}

	return h
}
