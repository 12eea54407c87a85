// Command healthcheck probes the service's /healthz endpoint for container health checks.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://127.0.0.1:6969/healthz"

func main() {
	url := os.Getenv("HEALTHCHECK_URL")
	if url == "" {
		url = defaultURL
	}
	if err := probe(context.Background(), &http.Client{Timeout: 3 * time.Second}, url); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "unexpected status " + http.StatusText(e.code) }
