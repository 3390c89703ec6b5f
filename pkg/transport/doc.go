// Package transport multiplexes several hub clients over one lower-layer
// connection. A Transport owns the lock serializing that connection and a
// single worker goroutine pumping it, started by the first attached client
// that needs it and stopped when the last one detaches.
package transport
