package iothub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/hubclient/internal/lock"
	"github.com/srg/hubclient/pkg/llclient"
	"github.com/srg/hubclient/pkg/lowlevel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testConnectionString = "HostName=testhub.example.net;DeviceId=dev-1;SharedAccessKey=c2VjcmV0"

func testConfig() *lowlevel.Config {
	return &lowlevel.Config{
		Protocol:  llclient.NewMemory(),
		DeviceID:  "dev-1",
		DeviceKey: "key",
		HubName:   "testhub",
		HubSuffix: "example.net",
	}
}

type ClientTestSuite struct {
	suite.Suite

	ll      *MockLowLevel
	factory *MockFactory
	lock    *flakyLock
	starter *countingStarter
	client  *Client

	doWorks            atomic.Int32
	llDestroyed        atomic.Bool
	doWorkAfterDestroy atomic.Int32
}

func (suite *ClientTestSuite) SetupTest() {
	suite.ll = &MockLowLevel{}
	suite.factory = &MockFactory{}
	suite.lock = newFlakyLock()
	suite.starter = &countingStarter{}
	suite.doWorks.Store(0)
	suite.llDestroyed.Store(false)
	suite.doWorkAfterDestroy.Store(0)

	suite.ll.On("DoWork").Return().Run(func(mock.Arguments) {
		suite.doWorks.Add(1)
		if suite.llDestroyed.Load() {
			suite.doWorkAfterDestroy.Add(1)
		}
	}).Maybe()
	suite.factory.On("Create", mock.Anything).Return(suite.ll, nil).Maybe()
	suite.factory.On("CreateFromConnectionString", mock.Anything, mock.Anything).Return(suite.ll, nil).Maybe()
}

func (suite *ClientTestSuite) TearDownTest() {
	if suite.client != nil {
		suite.lock.fail.Store(false)
		suite.ll.On("Destroy").Return().Maybe()
		suite.client.Destroy()
		suite.client = nil
	}
}

func (suite *ClientTestSuite) options() []Option {
	return []Option{
		WithLogger(quietLogger()),
		WithFactory(suite.factory),
		WithLockFactory(func() (Locker, error) { return suite.lock, nil }),
		WithWorkerStarter(suite.starter.start),
		WithWorkerInterval(time.Millisecond),
	}
}

func (suite *ClientTestSuite) create() *Client {
	c, err := Create(testConfig(), suite.options()...)
	suite.Require().NoError(err, "MUST create client")
	suite.Require().NotNil(c)
	suite.client = c
	return c
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (suite *ClientTestSuite) TestCreate() {
	// GOAL: Verify construction allocates the lock and lower layer but no worker
	//
	// TEST SCENARIO: Create client → lock and lower layer exist → no worker yet

	c := suite.create()

	suite.Assert().Same(suite.ll, c.ll, "lower-layer client MUST be the factory's")
	suite.Assert().True(c.ownsLock, "private lock MUST be owned")
	suite.Assert().False(c.WorkerRunning(), "worker MUST not start before first send")
	suite.Assert().Equal(int32(0), suite.starter.starts.Load())
	suite.factory.AssertCalled(suite.T(), "Create", mock.Anything)
}

func (suite *ClientTestSuite) TestCreateFromConnectionString() {
	proto := llclient.NewMemory()

	c, err := CreateFromConnectionString(testConnectionString, proto, suite.options()...)
	suite.Require().NoError(err)
	suite.client = c

	suite.factory.AssertCalled(suite.T(), "CreateFromConnectionString", testConnectionString, proto)
	suite.Assert().False(c.WorkerRunning())
}

func (suite *ClientTestSuite) TestConstructionRejectsMissingArguments() {
	// GOAL: Verify nil arguments fail before any resource is allocated
	//
	// TEST SCENARIO: Construct with nil/empty arguments → ErrInvalidArg → no lock, no lower layer

	lockCreated := false
	opts := append(suite.options(), WithLockFactory(func() (Locker, error) {
		lockCreated = true
		return lock.New(), nil
	}))
	factory := &MockFactory{}
	opts = append(opts, WithFactory(factory))

	tests := []struct {
		name   string
		create func() (*Client, error)
	}{
		{"nil config", func() (*Client, error) { return Create(nil, opts...) }},
		{"empty connection string", func() (*Client, error) {
			return CreateFromConnectionString("", llclient.NewMemory(), opts...)
		}},
		{"nil protocol", func() (*Client, error) {
			return CreateFromConnectionString(testConnectionString, nil, opts...)
		}},
		{"nil transport", func() (*Client, error) { return CreateWithTransport(nil, testConfig(), opts...) }},
		{"nil transport config", func() (*Client, error) {
			return CreateWithTransport(newFakeTransport(), nil, opts...)
		}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			c, err := tt.create()

			suite.Assert().Nil(c, "client MUST be nil")
			suite.Assert().ErrorIs(err, ErrInvalidArg)
			suite.Assert().Equal(ResultInvalidArg, ResultOf(err))
		})
	}

	suite.Assert().False(lockCreated, "no lock MUST be created")
	factory.AssertNotCalled(suite.T(), "Create", mock.Anything)
	factory.AssertNotCalled(suite.T(), "CreateFromConnectionString", mock.Anything, mock.Anything)
	factory.AssertNotCalled(suite.T(), "CreateWithTransport", mock.Anything)
}

func (suite *ClientTestSuite) TestConstructionRequiresFactory() {
	// GOAL: Verify every constructor rejects a missing lower-layer factory
	//
	// TEST SCENARIO: Construct without WithFactory → ErrInvalidArg → nil client, no lock created

	lockCreated := false
	opts := []Option{
		WithLogger(quietLogger()),
		WithLockFactory(func() (Locker, error) {
			lockCreated = true
			return lock.New(), nil
		}),
	}
	transport := newFakeTransport()

	tests := []struct {
		name   string
		create func() (*Client, error)
	}{
		{"create", func() (*Client, error) { return Create(testConfig(), opts...) }},
		{"from connection string", func() (*Client, error) {
			return CreateFromConnectionString(testConnectionString, llclient.NewMemory(), opts...)
		}},
		{"with transport", func() (*Client, error) { return CreateWithTransport(transport, testConfig(), opts...) }},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			c, err := tt.create()

			suite.Assert().Nil(c, "client MUST be nil")
			suite.Assert().ErrorIs(err, ErrInvalidArg)
		})
	}

	suite.Assert().False(lockCreated, "no lock MUST be created")
	suite.Assert().Equal(int32(0), transport.lock.lockCalls.Load(), "transport lock MUST not be taken")
}

func (suite *ClientTestSuite) TestConstructionFailures() {
	// GOAL: Verify partial construction failures release what was acquired
	//
	// TEST SCENARIO: Lock or lower-layer creation fails → ErrError → private lock closed

	suite.Run("lower layer fails", func() {
		factory := &MockFactory{}
		llErr := errors.New("no route to hub")
		factory.On("Create", mock.Anything).Return(nil, llErr)
		lk := newFlakyLock()

		c, err := Create(testConfig(),
			WithLogger(quietLogger()),
			WithFactory(factory),
			WithLockFactory(func() (Locker, error) { return lk, nil }))

		suite.Assert().Nil(c)
		suite.Assert().ErrorIs(err, ErrError)
		suite.Assert().ErrorIs(err, llErr, "cause MUST be wrapped")
		suite.Assert().True(lk.closed.Load(), "private lock MUST be released")
	})

	suite.Run("lock creation fails", func() {
		factory := &MockFactory{}

		c, err := Create(testConfig(),
			WithLogger(quietLogger()),
			WithFactory(factory),
			WithLockFactory(func() (Locker, error) { return nil, errors.New("out of locks") }))

		suite.Assert().Nil(c)
		suite.Assert().ErrorIs(err, ErrError)
		factory.AssertNotCalled(suite.T(), "Create", mock.Anything)
	})
}

func (suite *ClientTestSuite) TestWorkerStartsOnce() {
	// GOAL: Verify send and callback registration start exactly one worker
	//
	// TEST SCENARIO: Send twice, register callback → one worker start → worker running

	c := suite.create()
	suite.ll.On("SendEventAsync", mock.Anything, mock.Anything).Return(nil)
	suite.ll.On("SetMessageCallback", mock.Anything).Return(nil)

	suite.Require().NoError(c.SendEventAsync(lowlevel.NewStringMessage("a"), nil))
	suite.Assert().True(c.WorkerRunning(), "worker MUST run after first send")
	suite.Assert().Equal(int32(1), suite.starter.starts.Load())

	suite.Require().NoError(c.SendEventAsync(lowlevel.NewStringMessage("b"), nil))
	suite.Require().NoError(c.SetMessageCallback(func(*lowlevel.Message) lowlevel.Disposition {
		return lowlevel.DispositionAccepted
	}))

	suite.Assert().Equal(int32(1), suite.starter.starts.Load(), "no additional worker MUST be started")
	suite.ll.AssertNumberOfCalls(suite.T(), "SendEventAsync", 2)
	suite.ll.AssertNumberOfCalls(suite.T(), "SetMessageCallback", 1)
}

func (suite *ClientTestSuite) TestCallbackRegistrationStartsWorker() {
	c := suite.create()
	suite.ll.On("SetMessageCallback", mock.Anything).Return(nil)

	suite.Require().NoError(c.SetMessageCallback(nil))

	suite.Assert().True(c.WorkerRunning())
	suite.Assert().Equal(int32(1), suite.starter.starts.Load())
}

func (suite *ClientTestSuite) TestQueriesDoNotStartWorker() {
	// GOAL: Verify status, receive-time and option calls delegate without a worker
	//
	// TEST SCENARIO: Call each query → lower layer called → worker never started

	c := suite.create()
	received := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	suite.ll.On("GetSendStatus").Return(lowlevel.StatusBusy, nil)
	suite.ll.On("GetLastMessageReceiveTime").Return(received, nil)
	suite.ll.On("SetOption", "batchSize", 4).Return(nil)

	status, err := c.GetSendStatus()
	suite.Require().NoError(err)
	suite.Assert().Equal(lowlevel.StatusBusy, status)

	last, err := c.GetLastMessageReceiveTime()
	suite.Require().NoError(err)
	suite.Assert().Equal(received, last)

	suite.Require().NoError(c.SetOption("batchSize", 4))

	suite.Assert().False(c.WorkerRunning(), "queries MUST not start the worker")
	suite.Assert().Equal(int32(0), suite.starter.starts.Load())
}

func (suite *ClientTestSuite) TestDelegatedErrorsPassThrough() {
	// GOAL: Verify lower-layer errors are returned unchanged
	//
	// TEST SCENARIO: Lower layer fails → same error returned → not wrapped as ClientError

	c := suite.create()
	sendErr := errors.New("queue full")
	statusErr := errors.New("status unavailable")
	optErr := errors.New("unknown option")
	suite.ll.On("SendEventAsync", mock.Anything, mock.Anything).Return(sendErr)
	suite.ll.On("GetSendStatus").Return(lowlevel.StatusIdle, statusErr)
	suite.ll.On("SetOption", mock.Anything, mock.Anything).Return(optErr)

	err := c.SendEventAsync(lowlevel.NewStringMessage("x"), nil)
	suite.Assert().Same(sendErr, err)

	_, err = c.GetSendStatus()
	suite.Assert().Same(statusErr, err)

	err = c.SetOption("bogus", true)
	suite.Assert().Same(optErr, err)
	suite.Assert().Equal(ResultError, ResultOf(err))
}

func (suite *ClientTestSuite) TestSetOptionRejectsMissingArguments() {
	c := suite.create()

	suite.Assert().ErrorIs(c.SetOption("", 1), ErrInvalidArg)
	suite.Assert().ErrorIs(c.SetOption("batchSize", nil), ErrInvalidArg)
	suite.ll.AssertNotCalled(suite.T(), "SetOption", mock.Anything, mock.Anything)
	suite.Assert().Equal(int32(0), suite.lock.lockCalls.Load(), "invalid arguments MUST not touch the lock")
}

func (suite *ClientTestSuite) TestSendRejectsNilMessage() {
	c := suite.create()

	suite.Assert().ErrorIs(c.SendEventAsync(nil, nil), ErrInvalidArg)
	suite.Assert().False(c.WorkerRunning())
	suite.Assert().Equal(int32(0), suite.lock.lockCalls.Load())
}

func (suite *ClientTestSuite) TestLockFailure() {
	// GOAL: Verify a failed lock acquisition aborts the call without side effects
	//
	// TEST SCENARIO: Lock fails → generic error → lower layer never invoked → no worker

	c := suite.create()
	suite.lock.fail.Store(true)

	err := c.SendEventAsync(lowlevel.NewStringMessage("x"), nil)
	suite.Assert().ErrorIs(err, ErrError)
	suite.Assert().ErrorIs(err, lock.ErrLockFailed)

	suite.Assert().ErrorIs(c.SetMessageCallback(nil), ErrError)
	_, err = c.GetSendStatus()
	suite.Assert().ErrorIs(err, ErrError)
	_, err = c.GetLastMessageReceiveTime()
	suite.Assert().ErrorIs(err, ErrError)
	suite.Assert().ErrorIs(c.SetOption("batchSize", 1), ErrError)

	suite.ll.AssertNotCalled(suite.T(), "SendEventAsync", mock.Anything, mock.Anything)
	suite.ll.AssertNotCalled(suite.T(), "SetMessageCallback", mock.Anything)
	suite.ll.AssertNotCalled(suite.T(), "GetSendStatus")
	suite.ll.AssertNotCalled(suite.T(), "SetOption", mock.Anything, mock.Anything)
	suite.Assert().False(c.WorkerRunning(), "worker MUST not start when the lock fails")
}

func (suite *ClientTestSuite) TestWorkerStartFailure() {
	// GOAL: Verify a worker start failure is a generic error and skips the lower layer
	//
	// TEST SCENARIO: Starter fails → ErrError → lower layer not called → lock released

	suite.starter.err = errors.New("too many goroutines")
	c := suite.create()

	err := c.SendEventAsync(lowlevel.NewStringMessage("x"), nil)
	suite.Assert().ErrorIs(err, ErrError)
	suite.Assert().ErrorIs(c.SetMessageCallback(nil), ErrError)
	suite.ll.AssertNotCalled(suite.T(), "SendEventAsync", mock.Anything, mock.Anything)
	suite.ll.AssertNotCalled(suite.T(), "SetMessageCallback", mock.Anything)

	suite.Assert().True(suite.lock.TryLock(), "lock MUST be released after a failed call")
	suite.Require().NoError(suite.lock.Unlock())
}

func (suite *ClientTestSuite) TestWorkerPumpsLowerLayer() {
	c := suite.create()
	suite.ll.On("SetMessageCallback", mock.Anything).Return(nil)

	suite.Require().NoError(c.SetMessageCallback(nil))

	suite.Assert().Eventually(func() bool {
		return suite.doWorks.Load() >= 3
	}, time.Second, time.Millisecond, "worker MUST call DoWork periodically")
}

func (suite *ClientTestSuite) TestWorkerSkipsWorkWhileLockFails() {
	// GOAL: Verify the worker retries silently when the lock cannot be acquired
	//
	// TEST SCENARIO: Lock starts failing → no DoWork → lock recovers → DoWork resumes

	c := suite.create()
	suite.ll.On("SetMessageCallback", mock.Anything).Return(nil)
	suite.Require().NoError(c.SetMessageCallback(nil))

	suite.lock.fail.Store(true)
	time.Sleep(5 * time.Millisecond)
	before := suite.doWorks.Load()
	time.Sleep(20 * time.Millisecond)
	suite.Assert().Equal(before, suite.doWorks.Load(), "DoWork MUST not run without the lock")
	suite.Assert().True(c.WorkerRunning(), "worker MUST keep retrying")

	suite.lock.fail.Store(false)
	suite.Assert().Eventually(func() bool {
		return suite.doWorks.Load() > before
	}, time.Second, time.Millisecond, "DoWork MUST resume once the lock recovers")
}

func (suite *ClientTestSuite) TestDestroy() {
	// GOAL: Verify teardown stops and joins the worker and destroys the lower layer once
	//
	// TEST SCENARIO: Start worker → Destroy → worker exited → lower layer destroyed once → lock closed

	c := suite.create()
	suite.ll.On("SendEventAsync", mock.Anything, mock.Anything).Return(nil)
	suite.ll.On("Destroy").Return().Run(func(mock.Arguments) {
		suite.llDestroyed.Store(true)
	}).Once()

	suite.Require().NoError(c.SendEventAsync(lowlevel.NewStringMessage("x"), nil))
	suite.Require().True(c.WorkerRunning())

	c.Destroy()
	suite.client = nil

	suite.Assert().True(c.StopRequested(), "stop MUST be requested")
	suite.Assert().False(c.WorkerRunning(), "worker MUST be joined")
	suite.ll.AssertNumberOfCalls(suite.T(), "Destroy", 1)
	suite.Assert().Equal(int32(0), suite.doWorkAfterDestroy.Load(), "DoWork MUST not run after the lower layer is destroyed")
	suite.Assert().True(suite.lock.closed.Load(), "private lock MUST be released")

	suite.Run("second destroy is a no-op", func() {
		c.Destroy()
		suite.ll.AssertNumberOfCalls(suite.T(), "Destroy", 1)
	})

	suite.Run("operations after destroy are rejected", func() {
		suite.Assert().ErrorIs(c.SendEventAsync(lowlevel.NewStringMessage("x"), nil), ErrInvalidArg)
		suite.Assert().ErrorIs(c.SetMessageCallback(nil), ErrInvalidArg)
		_, err := c.GetSendStatus()
		suite.Assert().ErrorIs(err, ErrInvalidArg)
	})
}

func (suite *ClientTestSuite) TestCallsRacingDestroyAreRejected() {
	// GOAL: Verify a call that passed the destroyed check but waited on the lock
	// while Destroy ran neither starts a worker nor reaches the lower layer
	//
	// TEST SCENARIO: Caller parked before Lock → Destroy → gate opens → ErrInvalidArg → no worker

	suite.ll.On("Destroy").Return()

	tests := []struct {
		name string
		call func(c *Client) error
	}{
		{"send", func(c *Client) error { return c.SendEventAsync(lowlevel.NewStringMessage("late"), nil) }},
		{"message callback", func(c *Client) error {
			return c.SetMessageCallback(func(*lowlevel.Message) lowlevel.Disposition {
				return lowlevel.DispositionAccepted
			})
		}},
		{"send status", func(c *Client) error {
			_, err := c.GetSendStatus()
			return err
		}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			lk := newGatedLock()
			opts := append(suite.options(), WithLockFactory(func() (Locker, error) { return lk, nil }))
			c, err := Create(testConfig(), opts...)
			suite.Require().NoError(err)

			lk.armed.Store(true)
			result := make(chan error, 1)
			go func() {
				result <- tt.call(c)
			}()

			select {
			case <-lk.parked:
			case <-time.After(time.Second):
				suite.Require().FailNow("caller MUST reach the lock")
			}

			c.Destroy()
			close(lk.gate)

			select {
			case err := <-result:
				suite.Assert().ErrorIs(err, ErrInvalidArg, "call racing Destroy MUST be rejected")
			case <-time.After(time.Second):
				suite.Require().FailNow("caller MUST return once the gate opens")
			}
			suite.Assert().False(c.WorkerRunning(), "no worker MUST be started after Destroy")
			suite.Assert().Equal(int32(0), suite.starter.starts.Load())
		})
	}

	suite.ll.AssertNotCalled(suite.T(), "SendEventAsync", mock.Anything, mock.Anything)
	suite.ll.AssertNotCalled(suite.T(), "SetMessageCallback", mock.Anything)
	suite.ll.AssertNotCalled(suite.T(), "GetSendStatus")
}

func (suite *ClientTestSuite) TestDestroyWithoutWorker() {
	c := suite.create()
	suite.ll.On("Destroy").Return().Once()

	c.Destroy()
	suite.client = nil

	suite.ll.AssertNumberOfCalls(suite.T(), "Destroy", 1)
	suite.Assert().False(c.StopRequested(), "no worker MUST mean no stop signal")
	suite.Assert().True(suite.lock.closed.Load())
}

func (suite *ClientTestSuite) TestDestroyProceedsWhenLockFails() {
	// GOAL: Verify teardown is best-effort when the lock cannot be acquired
	//
	// TEST SCENARIO: Lock fails → Destroy → lower layer still destroyed → lock still closed

	c := suite.create()
	suite.ll.On("Destroy").Return().Once()
	suite.lock.fail.Store(true)

	c.Destroy()
	suite.client = nil

	suite.ll.AssertNumberOfCalls(suite.T(), "Destroy", 1)
	suite.Assert().True(suite.lock.closed.Load())
}

func (suite *ClientTestSuite) TestSharedTransport() {
	// GOAL: Verify a transport-attached client borrows the transport's lock and worker
	//
	// TEST SCENARIO: Attach → send → transport worker started, no private one → Destroy → signal under lock, join, lock left open

	transport := newFakeTransport()
	suite.factory.On("CreateWithTransport", mock.MatchedBy(func(cfg *lowlevel.DeviceConfig) bool {
		return cfg.DeviceID == "dev-1" && cfg.DeviceKey == "key" && cfg.Transport == transport.ll
	})).Return(suite.ll, nil).Once()
	suite.ll.On("SendEventAsync", mock.Anything, mock.Anything).Return(nil)
	suite.ll.On("SetMessageCallback", mock.Anything).Return(nil)
	suite.ll.On("Destroy").Return().Once()

	c, err := CreateWithTransport(transport, testConfig(), suite.options()...)
	suite.Require().NoError(err)
	suite.Assert().False(c.ownsLock, "transport lock MUST be borrowed")
	suite.Assert().Equal(int32(1), transport.lock.lockCalls.Load(), "creation MUST hold the transport lock once")

	suite.Require().NoError(c.SendEventAsync(lowlevel.NewStringMessage("x"), nil))
	suite.Require().NoError(c.SetMessageCallback(nil))

	started, _, _ := transport.counts()
	suite.Assert().Equal(2, started, "every send and registration MUST go to the transport")
	suite.Assert().Equal(int32(0), suite.starter.starts.Load(), "no private worker MUST be started")
	suite.Assert().False(c.WorkerRunning())

	c.Destroy()

	_, signalled, joined := transport.counts()
	suite.Assert().Equal(1, signalled)
	suite.Assert().Equal(1, joined)
	suite.Assert().True(transport.lockHeldOnS, "signal MUST happen with the lock held")
	suite.Assert().Same(c, transport.signalled[0])
	suite.Assert().False(transport.lock.closed.Load(), "borrowed lock MUST not be closed")
	suite.Assert().False(transport.lock.Closed())
	suite.ll.AssertNumberOfCalls(suite.T(), "Destroy", 1)
}

func (suite *ClientTestSuite) TestSharedTransportNotJoinable() {
	transport := newFakeTransport()
	transport.okToJoin = false
	suite.factory.On("CreateWithTransport", mock.Anything).Return(suite.ll, nil).Once()
	suite.ll.On("Destroy").Return().Once()

	c, err := CreateWithTransport(transport, testConfig(), suite.options()...)
	suite.Require().NoError(err)

	c.Destroy()

	_, signalled, joined := transport.counts()
	suite.Assert().Equal(1, signalled)
	suite.Assert().Equal(0, joined, "join MUST be skipped while other clients remain")
}

func (suite *ClientTestSuite) TestSharedTransportFailures() {
	suite.Run("no lock", func() {
		transport := newFakeTransport()
		transport.lock = nil

		c, err := CreateWithTransport(transport, testConfig(), suite.options()...)
		suite.Assert().Nil(c)
		suite.Assert().ErrorIs(err, ErrError)
	})

	suite.Run("no lower-layer transport", func() {
		transport := newFakeTransport()
		transport.ll = nil

		c, err := CreateWithTransport(transport, testConfig(), suite.options()...)
		suite.Assert().Nil(c)
		suite.Assert().ErrorIs(err, ErrError)
	})

	suite.Run("lower layer fails", func() {
		transport := newFakeTransport()
		factory := &MockFactory{}
		factory.On("CreateWithTransport", mock.Anything).Return(nil, errors.New("attach refused"))

		c, err := CreateWithTransport(transport, testConfig(), append(suite.options(), WithFactory(factory))...)
		suite.Assert().Nil(c)
		suite.Assert().ErrorIs(err, ErrError)
		suite.Assert().False(transport.lock.closed.Load(), "borrowed lock MUST never be closed")
		suite.Assert().True(transport.lock.TryLock(), "transport lock MUST be released")
		suite.Require().NoError(transport.lock.Unlock())
	})

	suite.Run("worker start fails", func() {
		transport := newFakeTransport()
		transport.startErr = errors.New("transport closed")
		ll := &MockLowLevel{}
		ll.On("Destroy").Return()
		factory := &MockFactory{}
		factory.On("CreateWithTransport", mock.Anything).Return(ll, nil)

		c, err := CreateWithTransport(transport, testConfig(), append(suite.options(), WithFactory(factory))...)
		suite.Require().NoError(err)
		defer c.Destroy()

		suite.Assert().ErrorIs(c.SendEventAsync(lowlevel.NewStringMessage("x"), nil), ErrError)
		ll.AssertNotCalled(suite.T(), "SendEventAsync", mock.Anything, mock.Anything)
	})
}

func TestNilClient(t *testing.T) {
	var c *Client

	assert.ErrorIs(t, c.SendEventAsync(lowlevel.NewStringMessage("x"), nil), ErrInvalidArg)
	assert.ErrorIs(t, c.SetMessageCallback(nil), ErrInvalidArg)
	_, err := c.GetSendStatus()
	assert.ErrorIs(t, err, ErrInvalidArg)
	_, err = c.GetLastMessageReceiveTime()
	assert.ErrorIs(t, err, ErrInvalidArg)
	assert.ErrorIs(t, c.SetOption("batchSize", 1), ErrInvalidArg)
	assert.False(t, c.WorkerRunning())
	assert.False(t, c.StopRequested())

	c.Destroy()
}

func TestClient_EndToEndWithMemoryProtocol(t *testing.T) {
	// GOAL: Verify the concrete send scenario against the reference lower layer
	//
	// TEST SCENARIO: Create from connection string → send → worker delivers and confirms → Destroy joins worker

	mem := llclient.NewMemory()
	logger := quietLogger()
	counting := &countingFactory{Factory: llclient.NewFactory(logger)}

	c, err := CreateFromConnectionString(testConnectionString, mem,
		WithLogger(logger),
		WithFactory(counting))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.WorkerRunning())

	confirmed := make(chan lowlevel.ConfirmationResult, 1)
	err = c.SendEventAsync(lowlevel.NewStringMessage("temp=21"), func(_ *lowlevel.Message, r lowlevel.ConfirmationResult) {
		confirmed <- r
	})
	require.NoError(t, err)
	assert.True(t, c.WorkerRunning(), "worker MUST be running after send")

	select {
	case r := <-confirmed:
		assert.Equal(t, lowlevel.ConfirmationOK, r)
	case <-time.After(2 * time.Second):
		t.Fatal("event MUST be confirmed by the worker")
	}
	assert.Len(t, mem.Link("dev-1").Sent(), 1)

	status, err := c.GetSendStatus()
	require.NoError(t, err)
	assert.Equal(t, lowlevel.StatusIdle, status)

	c.Destroy()

	assert.False(t, c.WorkerRunning(), "worker MUST have exited and been joined")
	assert.Equal(t, int32(1), counting.destroyed.Load(), "lower layer MUST be destroyed exactly once")
	assert.True(t, mem.Link("dev-1").Closed())
}

func TestClient_ReceivesCloudToDeviceMessages(t *testing.T) {
	mem := llclient.NewMemory()
	c, err := Create(testConfigWith(mem), WithLogger(quietLogger()), WithFactory(llclient.NewFactory(quietLogger())))
	require.NoError(t, err)
	defer c.Destroy()

	_, err = c.GetLastMessageReceiveTime()
	assert.ErrorIs(t, err, llclient.ErrNoMessageReceived)

	received := make(chan string, 1)
	require.NoError(t, c.SetMessageCallback(func(msg *lowlevel.Message) lowlevel.Disposition {
		received <- string(msg.Payload)
		return lowlevel.DispositionAccepted
	}))

	mem.Inject("dev-1", lowlevel.NewStringMessage("reboot"))

	select {
	case payload := <-received:
		assert.Equal(t, "reboot", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message MUST be dispatched by the worker")
	}

	last, err := c.GetLastMessageReceiveTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), last, 2*time.Second)
}

func TestClient_ConcurrentSends(t *testing.T) {
	mem := llclient.NewMemory()
	c, err := Create(testConfigWith(mem), WithLogger(quietLogger()), WithFactory(llclient.NewFactory(quietLogger())))
	require.NoError(t, err)
	defer c.Destroy()

	const senders, perSender = 8, 25
	var confirmed atomic.Int32
	done := make(chan struct{})
	for i := 0; i < senders; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < perSender; j++ {
				err := c.SendEventAsync(lowlevel.NewStringMessage("e"), func(*lowlevel.Message, lowlevel.ConfirmationResult) {
					confirmed.Add(1)
				})
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < senders; i++ {
		<-done
	}

	assert.Eventually(t, func() bool {
		return confirmed.Load() == senders*perSender
	}, 5*time.Second, time.Millisecond, "every event MUST be confirmed")
	assert.Len(t, mem.Link("dev-1").Sent(), senders*perSender)
}

func testConfigWith(p lowlevel.Protocol) *lowlevel.Config {
	cfg := testConfig()
	cfg.Protocol = p
	return cfg
}

// countingFactory counts lower-layer Destroy calls on the clients it creates
type countingFactory struct {
	*llclient.Factory
	destroyed atomic.Int32
}

type countingClient struct {
	lowlevel.Client
	destroyed *atomic.Int32
}

func (c *countingClient) Destroy() {
	c.destroyed.Add(1)
	c.Client.Destroy()
}

func (f *countingFactory) wrap(ll lowlevel.Client, err error) (lowlevel.Client, error) {
	if err != nil {
		return nil, err
	}
	return &countingClient{Client: ll, destroyed: &f.destroyed}, nil
}

func (f *countingFactory) Create(cfg *lowlevel.Config) (lowlevel.Client, error) {
	return f.wrap(f.Factory.Create(cfg))
}

func (f *countingFactory) CreateFromConnectionString(cs string, p lowlevel.Protocol) (lowlevel.Client, error) {
	return f.wrap(f.Factory.CreateFromConnectionString(cs, p))
}

func (f *countingFactory) CreateWithTransport(cfg *lowlevel.DeviceConfig) (lowlevel.Client, error) {
	return f.wrap(f.Factory.CreateWithTransport(cfg))
}

func TestStartGoroutine(t *testing.T) {
	ran := make(chan struct{})
	w, err := startGoroutine("test-worker", func(ctx context.Context) { close(ran) })
	require.NoError(t, err)
	w.Join()

	assert.True(t, w.Exited())
	<-ran
}
