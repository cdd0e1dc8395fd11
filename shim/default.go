package shim

import (
	"context"
	"sync"
)

var (
	defaultOnce   sync.Once
	defaultClient *Client
	defaultErr    error
)

// Default returns the process-wide client, attaching it on first use
// with environment configuration. The error is non-nil only under
// FailFast, when the attach was denied or failed; the client is still
// returned and every call runs native.
func Default() (*Client, error) {
	defaultOnce.Do(func() {
		defaultClient = NewClient()
		defaultErr = defaultClient.Attach(context.Background())
	})
	return defaultClient, defaultErr
}
