package httpd

import "context"

// HTTPd is the interface for dora to provide the status HTTP daemon.
type HTTPd interface {
	Serve(ctx context.Context) error
}
