// Package llclient is a reference implementation of the lowlevel contract.
//
// It keeps an in-memory queue of outbound events, settles them when DoWork
// hands them to a protocol link, and dispatches inbound messages polled from
// the same link to the registered message callback. Two protocols are
// provided: Memory, an in-process link used by tests and demos, and Redis,
// which publishes events to a Redis stream and reads cloud-to-device
// messages from a Redis list.
//
// Like every lowlevel.Client, a Client is not safe for concurrent use.
package llclient
