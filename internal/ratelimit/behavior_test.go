package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func browserMetadata() RequestMetadata {
	return RequestMetadata{
		UserAgent:      browserUA,
		Accept:         "application/json",
		AcceptLanguage: "pt-BR,pt;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		Host:           "app.example.com",
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(m *RequestMetadata)
		expected float64
	}{
		{name: "full browser", mutate: func(m *RequestMetadata) {}, expected: 1.0},
		{name: "automation client", mutate: func(m *RequestMetadata) { m.UserAgent = "python-requests/2.31.0" }, expected: 0.3},
		{name: "short user agent", mutate: func(m *RequestMetadata) { m.UserAgent = "abc" }, expected: 0.5},
		{name: "short bot user agent stacks", mutate: func(m *RequestMetadata) { m.UserAgent = "curl/8" }, expected: 0.15},
		{name: "missing accept language", mutate: func(m *RequestMetadata) { m.AcceptLanguage = "" }, expected: 2.0 / 3},
		{name: "ajax bonus", mutate: func(m *RequestMetadata) {
			m.AcceptLanguage = ""
			m.RequestedWith = "XMLHttpRequest"
		}, expected: 2.0 / 3 * 1.1},
		{name: "same origin bonus", mutate: func(m *RequestMetadata) {
			m.AcceptLanguage = ""
			m.Referer = "https://app.example.com/dashboard"
		}, expected: 2.0 / 3 * 1.2},
		{name: "same origin ignores port", mutate: func(m *RequestMetadata) {
			m.AcceptLanguage = ""
			m.Host = "app.example.com:8443"
			m.Referer = "https://app.example.com:8443/dashboard"
		}, expected: 2.0 / 3 * 1.2},
		{name: "cross origin referer", mutate: func(m *RequestMetadata) {
			m.AcceptLanguage = ""
			m.Referer = "https://evil.example.net/"
		}, expected: 2.0 / 3},
		{name: "bonuses clamp at ceiling", mutate: func(m *RequestMetadata) {
			m.RequestedWith = "XMLHttpRequest"
			m.Referer = "https://app.example.com/"
		}, expected: 1.0},
		{name: "no headers clamps at floor", mutate: func(m *RequestMetadata) {
			*m = RequestMetadata{}
		}, expected: 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := browserMetadata()
			tt.mutate(&m)
			assert.InDelta(t, tt.expected, Score(m), 1e-9)
		})
	}
}

func TestScore_AutomationAlwaysLowerThanBrowser(t *testing.T) {
	browser := Score(browserMetadata())

	for _, ua := range []string{
		"python-requests/2.x",
		"curl/8.4.0",
		"Wget/1.21.4",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"Go-http-client/1.1",
		"Mozilla/5.0 HeadlessChrome/120.0.0.0",
		"node-fetch/1.0",
		"okhttp/4.12.0",
	} {
		m := browserMetadata()
		m.UserAgent = ua
		assert.Less(t, Score(m), browser, "user agent %q", ua)
	}
}

func TestScoreAlwaysWithinBounds(t *testing.T) {
	for _, m := range []RequestMetadata{
		{},
		{UserAgent: "x", RequestedWith: "XMLHttpRequest", Referer: "http://h/", Host: "h"},
		browserMetadata(),
	} {
		s := Score(m)
		assert.GreaterOrEqual(t, s, 0.1)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestScaledLimit(t *testing.T) {
	assert.Equal(t, 100, ScaledLimit(100, 1.0))
	assert.Equal(t, 50, ScaledLimit(100, 0.5))
	assert.Equal(t, 10, ScaledLimit(100, 0.1))
	assert.Equal(t, 0, ScaledLimit(5, 0.1))
}

func TestMetadataFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "http://app.example.com/api/patients", nil)
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Referer", "http://app.example.com/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	m := MetadataFromRequest(req)
	assert.Equal(t, browserUA, m.UserAgent)
	assert.Equal(t, "*/*", m.Accept)
	assert.Equal(t, "en", m.AcceptLanguage)
	assert.Equal(t, "gzip", m.AcceptEncoding)
	assert.Equal(t, "http://app.example.com/", m.Referer)
	assert.Equal(t, "XMLHttpRequest", m.RequestedWith)
	assert.Equal(t, "app.example.com", m.Host)
}
