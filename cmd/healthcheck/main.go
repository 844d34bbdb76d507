// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the /health endpoint returns HTTP 200, and 1
// otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
//
// The probed port is read from REQSHIELD_PORT, the same variable the server
// honours, and defaults to 8080.
package main

import (
	"net/http"
	"os"
	"time"

	"reqshield/internal/version"
)

func main() {
	port := os.Getenv("REQSHIELD_PORT")
	if port == "" {
		port = "8080"
	}
	if !healthy(&http.Client{Timeout: 3 * time.Second}, "http://localhost:"+port+"/health") {
		os.Exit(1)
	}
}

// healthy reports whether url answers 200. The request identifies itself as
// the probe so it can be told apart from client traffic.
func healthy(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent()+" healthcheck")

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
