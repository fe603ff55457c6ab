// Command healthcheck probes the local checkbridge health endpoint. Intended
// as a container HEALTHCHECK binary; exits 0 when the server answers.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"
)

func main() {
	if !probe(healthURL(os.Getenv("CHECKBRIDGE_LISTEN_ADDR"))) {
		os.Exit(1)
	}
}

func probe(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// healthURL builds the probe URL, rewriting a bind-all listen address to
// loopback since the probe runs inside the same container as the server.
func healthURL(addr string) string {
	host, port := "127.0.0.1", "8080"
	if h, p, err := net.SplitHostPort(addr); err == nil {
		if h != "" && h != "0.0.0.0" {
			host = h
		}
		port = p
	}

	return "http://" + net.JoinHostPort(host, port) + "/api/v1/health"
}
