// Package fetcher stages remote pipeline inputs (HTTP, FTP, ZIP archives)
// onto local disk and parses tabular lookup files (delimited text, XLSX).
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads a single remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns the bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// ConditionalFetcher is a Fetcher that can skip unchanged resources.
type ConditionalFetcher interface {
	Fetcher

	// DownloadIfChanged fetches the URL only if its ETag differs from etag.
	// When unchanged, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (body io.ReadCloser, newETag string, changed bool, err error)
}
