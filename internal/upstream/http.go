package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tbury/scatter/internal/search"
	"github.com/tbury/scatter/internal/token"
)

// maxResponseSize caps how much of an upstream response body is read.
const maxResponseSize = 1 << 20 // 1 MB

// HTTPReplica builds a replica call that issues GET <baseURL>?q=<term>
// against one upstream search backend. The request context is bridged to the
// cancellation token, so an expired or superseded token aborts the request
// in flight. A non-2xx response is a replica failure.
func HTTPReplica(client *http.Client, baseURL string) search.ReplicaFunc {
	return func(tok *token.Token, term string) ([]byte, error) {
		ctx, cancel := tok.Context(context.Background())
		defer cancel()

		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream url: %w", err)
		}
		q := u.Query()
		q.Set("q", term)
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build upstream request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("upstream request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("read upstream response: %w", err)
		}
		return body, nil
	}
}
