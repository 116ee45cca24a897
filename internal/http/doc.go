// Package http provides an HTTP client tuned for many concurrent streamed
// downloads.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - Streaming GET requests without an overall body deadline
//   - Classification of failures into retryable and permanent errors
//
// Retrying is left to the caller: every error returned by [Client.Get] is
// either tagged [retry.Network] or is permanent (not found, forbidden,
// unauthorized, cancelled).
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	resp, err := client.Get(ctx, url)
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
package http
