package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sqelf/internal/core"
	"firestige.xyz/sqelf/internal/metrics"
	"firestige.xyz/sqelf/internal/receive"
	"firestige.xyz/sqelf/pkg/gelf"
)

const testReadTimeout = 20 * time.Millisecond

// recordingSink collects emitted messages and can be told to fail.
type recordingSink struct {
	mu       sync.Mutex
	msgs     []*gelf.Message
	fail     func(*gelf.Message) error
	delay    time.Duration
	returned *atomic.Bool
	late     atomic.Int64
}

func (s *recordingSink) Emit(_ context.Context, msg *gelf.Message) error {
	if s.returned != nil && s.returned.Load() {
		s.late.Add(1)
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	if s.fail != nil {
		return s.fail(msg)
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *recordingSink) shortMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.ShortMessage)
	}
	return out
}

// mockReceiver is a testify mock of Receiver.
type mockReceiver struct {
	mock.Mock
}

func (m *mockReceiver) Decode(datagram []byte) (*gelf.Message, error) {
	args := m.Called(datagram)
	msg, _ := args.Get(0).(*gelf.Message)
	return msg, args.Error(1)
}

func (m *mockReceiver) EvictExpired(now time.Time) int {
	return m.Called(now).Int(0)
}

func startServer(t *testing.T, cfg Config, receiver Receiver, sink Sink) (*Server, *Handle, <-chan error) {
	t.Helper()
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = testReadTimeout
	}
	srv, handle, err := New(cfg, receiver, sink)
	require.NoError(t, err)

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- srv.Run()
		close(finished)
	}()
	t.Cleanup(func() {
		handle.Close()
		select {
		case <-finished:
		case <-time.After(time.Second):
		}
	})
	return srv, handle, done
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func stop(t *testing.T, handle *Handle, done <-chan error) error {
	t.Helper()
	handle.Close()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestServer_DeliversMessages(t *testing.T) {
	sink := &recordingSink{}
	srv, handle, done := startServer(t, Config{}, receive.NewDecoder(receive.Config{}), sink)
	conn := dial(t, srv)

	send(t, conn, `{"host":"h","short_message":"raw"}`)

	packed, err := gelf.Compress(gelf.CompressionZlib, []byte(`{"host":"h","short_message":"chunked"}`))
	require.NoError(t, err)
	datagrams, err := gelf.Split(packed, gelf.MessageID{1}, gelf.ChunkHeaderLen+8)
	require.NoError(t, err)
	for i := len(datagrams) - 1; i >= 0; i-- {
		_, err := conn.Write(datagrams[i])
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return sink.count() == 2 })
	assert.ElementsMatch(t, []string{"raw", "chunked"}, sink.shortMessages())
	require.NoError(t, stop(t, handle, done))
}

func TestServer_SinkFailureDoesNotStopLoop(t *testing.T) {
	var reported atomic.Int64
	sink := &recordingSink{fail: func(m *gelf.Message) error {
		if m.ShortMessage == "bad" {
			return errors.New("downstream unavailable")
		}
		return nil
	}}
	cfg := Config{OnSinkError: func(*gelf.Message, error) { reported.Add(1) }}
	srv, handle, done := startServer(t, cfg, receive.NewDecoder(receive.Config{}), sink)
	conn := dial(t, srv)

	send(t, conn, `{"host":"h","short_message":"bad"}`)
	waitFor(t, func() bool { return reported.Load() == 1 })

	send(t, conn, `{"host":"h","short_message":"good"}`)
	waitFor(t, func() bool { return sink.count() == 2 })
	require.NoError(t, stop(t, handle, done))
}

func TestServer_DecodeFailureDoesNotStopLoop(t *testing.T) {
	sink := &recordingSink{}
	srv, handle, done := startServer(t, Config{}, receive.NewDecoder(receive.Config{}), sink)
	conn := dial(t, srv)

	send(t, conn, "\x00\x01garbage")
	send(t, conn, `{"host":`)
	send(t, conn, `{"host":"h","short_message":"after"}`)

	waitFor(t, func() bool { return sink.count() == 1 })
	assert.Equal(t, []string{"after"}, sink.shortMessages())
	require.NoError(t, stop(t, handle, done))
}

func TestServer_StopsWithinReadTimeout(t *testing.T) {
	var returned atomic.Bool
	sink := &recordingSink{returned: &returned}
	srv, handle, done := startServer(t, Config{}, receive.NewDecoder(receive.Config{}), sink)
	conn := dial(t, srv)

	// Keep traffic flowing while the stop is requested.
	stopSending := make(chan struct{})
	var senders sync.WaitGroup
	senders.Add(1)
	go func() {
		defer senders.Done()
		for {
			select {
			case <-stopSending:
				return
			default:
				_, _ = conn.Write([]byte(`{"host":"h","short_message":"flood"}`))
				time.Sleep(time.Millisecond)
			}
		}
	}()
	waitFor(t, func() bool { return sink.count() > 0 })

	start := time.Now()
	handle.Close()
	select {
	case err := <-done:
		returned.Store(true)
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
	assert.Less(t, time.Since(start), 10*testReadTimeout)

	time.Sleep(3 * testReadTimeout)
	close(stopSending)
	senders.Wait()
	assert.Zero(t, sink.late.Load(), "sink invoked after Run returned")
}

func TestServer_IdleStop(t *testing.T) {
	_, handle, done := startServer(t, Config{}, receive.NewDecoder(receive.Config{}), &recordingSink{})

	time.Sleep(2 * testReadTimeout)
	start := time.Now()
	require.NoError(t, stop(t, handle, done))
	assert.Less(t, time.Since(start), 10*testReadTimeout)

	// Closing again after stop has no effect.
	handle.Close()
}

func TestServer_QueueDrainsBeforeReturn(t *testing.T) {
	var returned atomic.Bool
	sink := &recordingSink{delay: 5 * time.Millisecond, returned: &returned}
	srv, handle, done := startServer(t, Config{QueueCapacity: 64}, receive.NewDecoder(receive.Config{}), sink)
	conn := dial(t, srv)

	for i := 0; i < 10; i++ {
		send(t, conn, `{"host":"h","short_message":"queued"}`)
	}
	waitFor(t, func() bool { return sink.count() >= 1 })

	require.NoError(t, stop(t, handle, done))
	returned.Store(true)
	got := sink.count()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, got, sink.count())
	assert.Zero(t, sink.late.Load())
}

func TestServer_QueueBackpressureDrops(t *testing.T) {
	release := make(chan struct{})
	var emitted atomic.Int64
	sink := SinkFunc(func(context.Context, *gelf.Message) error {
		<-release
		emitted.Add(1)
		return nil
	})
	srv, handle, done := startServer(t, Config{QueueCapacity: 1}, receive.NewDecoder(receive.Config{}), sink)
	conn := dial(t, srv)

	// One message blocks the worker, one fills the queue, the rest wait
	// a read timeout each and are dropped.
	for i := 0; i < 5; i++ {
		send(t, conn, `{"host":"h","short_message":"x"}`)
	}
	time.Sleep(8 * testReadTimeout)
	close(release)

	require.NoError(t, stop(t, handle, done))
	assert.Less(t, emitted.Load(), int64(5))
	assert.GreaterOrEqual(t, emitted.Load(), int64(1))
}

func TestServer_PeriodicEviction(t *testing.T) {
	receiver := &mockReceiver{}
	receiver.On("EvictExpired", mock.Anything).Return(0)

	_, handle, done := startServer(t, Config{EvictInterval: testReadTimeout}, receiver, &recordingSink{})
	time.Sleep(6 * testReadTimeout)
	require.NoError(t, stop(t, handle, done))

	receiver.AssertCalled(t, "EvictExpired", mock.Anything)
	receiver.AssertNotCalled(t, "Decode", mock.Anything)
}

func TestServer_RateLimitPerSource(t *testing.T) {
	receiver := &mockReceiver{}
	receiver.On("EvictExpired", mock.Anything).Return(0)
	receiver.On("Decode", mock.Anything).Return(&gelf.Message{Host: "h", ShortMessage: "m"}, nil)
	sink := &recordingSink{}
	limited := metrics.DatagramsTotal.WithLabelValues("rate_limited")
	before := testutil.ToFloat64(limited)

	srv, handle, done := startServer(t, Config{MaxDatagramsPerSource: 2, RateLimitWindow: time.Minute}, receiver, sink)
	conn := dial(t, srv)
	for i := 0; i < 5; i++ {
		send(t, conn, "{}")
	}
	waitFor(t, func() bool { return sink.count() == 2 })
	time.Sleep(3 * testReadTimeout)
	require.NoError(t, stop(t, handle, done))

	assert.Equal(t, 2, sink.count())
	receiver.AssertNumberOfCalls(t, "Decode", 2)
	assert.Equal(t, float64(3), testutil.ToFloat64(limited)-before)
}

func TestServer_BindFailure(t *testing.T) {
	first, _, _ := startServer(t, Config{}, receive.NewDecoder(receive.Config{}), &recordingSink{})

	_, _, err := New(Config{Bind: first.Addr().String()}, receive.NewDecoder(receive.Config{}), &recordingSink{})
	assert.Error(t, err)
}

func TestServer_RequiresCollaborators(t *testing.T) {
	_, _, err := New(Config{Bind: "127.0.0.1:0"}, nil, &recordingSink{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestServer_RunTwice(t *testing.T) {
	srv, handle, err := New(Config{Bind: "127.0.0.1:0", ReadTimeout: testReadTimeout},
		receive.NewDecoder(receive.Config{}), &recordingSink{})
	require.NoError(t, err)
	handle.Close()

	require.NoError(t, srv.Run())
	assert.ErrorIs(t, srv.Run(), core.ErrServerClosed)
}
