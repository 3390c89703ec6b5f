// Package lowlevel defines the contract of a single-threaded IoT hub device
// client: the layer that owns the outbound event queue, the protocol state
// and the transport I/O.
//
// Implementations of Client are not safe for concurrent use. They make
// progress only when DoWork is called, and DoWork must not run concurrently
// with any other method on the same client. The iothub package wraps a
// Client with a lock and a worker goroutine to lift those restrictions.
package lowlevel
