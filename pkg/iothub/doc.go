// Package iothub provides a thread-safe IoT hub device client.
//
// A Client wraps a single-threaded lowlevel.Client. Every call into the
// lower layer is serialized by a lock, and a background worker goroutine
// calls the lower layer's DoWork under the same lock so queued events are
// delivered and inbound messages dispatched without the caller pumping.
//
// The worker is started lazily by the first SendEventAsync or
// SetMessageCallback. Clients created with CreateWithTransport never start
// a worker of their own; the SharedTransport they attach to owns the lock
// and the worker for all of its clients.
//
// The lower layer is supplied with WithFactory:
//
//	client, err := iothub.CreateFromConnectionString(cs, llclient.NewMemory(),
//	    iothub.WithFactory(llclient.NewFactory(logger)))
//	if err != nil {
//	    return err
//	}
//	defer client.Destroy()
//
//	err = client.SendEventAsync(lowlevel.NewStringMessage("hello"), nil)
package iothub
