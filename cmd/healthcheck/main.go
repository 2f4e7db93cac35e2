// Package main provides a minimal HTTP healthcheck binary for container
// probes. It GETs the given URL and exits 0 on a 2xx response, 1 otherwise.
// Usage: healthcheck [url] (default http://localhost:8080/healthz)
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	url := "http://localhost:8080/healthz"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	os.Exit(1)
}
