package iothub

import "github.com/srg/hubclient/pkg/lowlevel"

// SharedTransport is a connection several clients are multiplexed over. It
// owns the lock and the worker goroutine for all of them. The client value
// passed to the worker methods identifies the attached Client.
type SharedTransport interface {
	Lock() Locker
	LowLevelTransport() lowlevel.Transport
	StartWorkerThread(client any) error
	// SignalEndWorkerThread detaches client and reports whether the caller
	// should join the worker.
	SignalEndWorkerThread(client any) bool
	JoinWorkerThread(client any)
}
