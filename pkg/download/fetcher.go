package download

import (
	"context"
	"io"
)

// Fetcher opens a byte stream for a download URL. It is the seam
// error-injection tests mock out; production code backs it with an
// HTTP client, which this module does not implement itself (fetching
// bytes over the network is explicitly out of scope — only the
// integrity and identity logic around a fetch is).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}
