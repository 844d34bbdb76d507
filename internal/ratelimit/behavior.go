package ratelimit

import (
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	minScore           = 0.1
	maxScore           = 1.0
	minUserAgentLength = 10
)

// automationSignature matches user agents of bots, crawlers and scripted HTTP clients.
var automationSignature = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|curl|wget|python|node|headless|go-http-client|java|okhttp|libwww|httpclient|phantomjs|selenium|puppeteer`)

// RequestMetadata is the subset of a request the behavior scorer looks at.
type RequestMetadata struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
	Referer        string
	RequestedWith  string
	Host           string
}

// MetadataFromRequest extracts scoring metadata from an HTTP request.
func MetadataFromRequest(r *http.Request) RequestMetadata {
	return RequestMetadata{
		UserAgent:      r.Header.Get("User-Agent"),
		Accept:         r.Header.Get("Accept"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Referer:        r.Header.Get("Referer"),
		RequestedWith:  r.Header.Get("X-Requested-With"),
		Host:           r.Host,
	}
}

// Score estimates how likely a request is to come from a human-driven client,
// as a value in [0.1, 1.0]. The AJAX and same-origin bonuses can push the raw
// product above 1.0; the clamp keeps 1.0 as the ceiling.
func Score(m RequestMetadata) float64 {
	score := 1.0

	if len(m.UserAgent) < minUserAgentLength {
		score *= 0.5
	}

	if automationSignature.MatchString(m.UserAgent) {
		score *= 0.3
	}

	present := 0
	for _, h := range []string{m.Accept, m.AcceptLanguage, m.AcceptEncoding} {
		if h != "" {
			present++
		}
	}
	score *= float64(present) / 3

	if m.RequestedWith == "XMLHttpRequest" {
		score *= 1.1
	}

	if sameOrigin(m.Referer, m.Host) {
		score *= 1.2
	}

	return math.Max(minScore, math.Min(maxScore, score))
}

// ScaledLimit applies a behavior score to a base request limit.
func ScaledLimit(baseMax int, score float64) int {
	return int(math.Floor(float64(baseMax) * score))
}

func sameOrigin(referer, host string) bool {
	if referer == "" || host == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Hostname(), hostname(host))
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
