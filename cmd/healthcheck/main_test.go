package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthy(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Timeout: time.Second}

	assert.True(t, healthy(client, srv.URL+"/health"))
	assert.True(t, strings.HasPrefix(gotUA, "reqshield/"), "unexpected User-Agent %q", gotUA)
	assert.True(t, strings.HasSuffix(gotUA, " healthcheck"))

	assert.False(t, healthy(client, srv.URL+"/missing"))
}

func TestHealthy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	assert.False(t, healthy(&http.Client{Timeout: time.Second}, addr+"/health"))
	assert.False(t, healthy(&http.Client{}, "://bad"))
}
