// Package server implements the UDP receive loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/sqelf/internal/core"
	"firestige.xyz/sqelf/internal/metrics"
	"firestige.xyz/sqelf/pkg/gelf"
)

const (
	defaultBind        = "0.0.0.0:12201"
	defaultReadTimeout = 100 * time.Millisecond
)

// Receiver turns datagrams into messages. Implemented by receive.Decoder.
type Receiver interface {
	// Decode returns (nil, nil) while a message is incomplete.
	Decode(datagram []byte) (*gelf.Message, error)
	EvictExpired(now time.Time) int
}

// Sink accepts decoded messages, one at a time, in completion order.
type Sink interface {
	Emit(ctx context.Context, msg *gelf.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg *gelf.Message) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, msg *gelf.Message) error {
	return f(ctx, msg)
}

// Config configures a Server.
type Config struct {
	Bind          string        // UDP address, default 0.0.0.0:12201
	ReadTimeout   time.Duration // bounds shutdown latency, default 100ms
	EvictInterval time.Duration // expiry sweep cadence, default ReadTimeout

	// QueueCapacity > 0 decouples the sink from the socket through a
	// bounded queue drained by one worker goroutine.
	QueueCapacity int

	ReusePort          bool
	ReceiveBufferBytes int

	MaxDatagramsPerSource int
	RateLimitWindow       time.Duration

	// OnSinkError, when set, is called on the goroutine that invoked the
	// sink each time it fails.
	OnSinkError func(msg *gelf.Message, err error)
}

// Server owns the UDP socket and drives the Receiver.
type Server struct {
	config   Config
	conn     *net.UDPConn
	receiver Receiver
	sink     Sink
	handle   *Handle
	limiter  *SourceRateLimiter
	logger   *slog.Logger

	queue chan *gelf.Message
	wg    sync.WaitGroup

	runOnce sync.Once
}

// New binds the socket and pairs the server with its Handle. Bind
// failures are returned here.
func New(cfg Config, receiver Receiver, sink Sink) (*Server, *Handle, error) {
	if receiver == nil || sink == nil {
		return nil, nil, fmt.Errorf("%w: receiver and sink are required", core.ErrConfigInvalid)
	}
	if cfg.Bind == "" {
		cfg.Bind = defaultBind
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = cfg.ReadTimeout
	}

	conn, err := listen(cfg)
	if err != nil {
		return nil, nil, err
	}

	s := &Server{
		config:   cfg,
		conn:     conn,
		receiver: receiver,
		sink:     sink,
		handle:   &Handle{},
		limiter: NewSourceRateLimiter(SourceRateLimiterConfig{
			MaxPerSource: cfg.MaxDatagramsPerSource,
			Window:       cfg.RateLimitWindow,
		}),
		logger: slog.With("component", "server", "bind", conn.LocalAddr().String()),
	}
	if cfg.QueueCapacity > 0 {
		s.queue = make(chan *gelf.Message, cfg.QueueCapacity)
	}
	return s, s.handle, nil
}

func listen(cfg Config) (*net.UDPConn, error) {
	var lc net.ListenConfig
	if cfg.ReusePort {
		lc.Control = reusePortControl
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", cfg.Bind, err)
	}
	conn := pc.(*net.UDPConn)

	if cfg.ReceiveBufferBytes > 0 {
		if err := conn.SetReadBuffer(cfg.ReceiveBufferBytes); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set receive buffer on %s: %w", cfg.Bind, err)
		}
	}
	return conn, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Run reads datagrams until the Handle is closed or the socket fails. It
// returns nil after a requested stop, and the socket error otherwise. No
// sink call happens after Run returns. Run may be called once.
func (s *Server) Run() error {
	err := core.ErrServerClosed
	s.runOnce.Do(func() {
		err = s.run()
	})
	return err
}

func (s *Server) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.queue != nil {
		s.wg.Add(1)
		go s.drain(ctx)
	}
	defer s.shutdown()

	s.logger.Info("receiving GELF datagrams",
		"read_timeout", s.config.ReadTimeout,
		"queue_capacity", s.config.QueueCapacity,
	)

	// One spare byte detects datagrams larger than the protocol allows.
	buf := make([]byte, gelf.MaxDatagramSize+1)
	lastEvict := time.Now()

	for !s.handle.Closed() {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, src, err := s.conn.ReadFromUDPAddrPort(buf)
		now := time.Now()

		switch {
		case err == nil:
			s.handleDatagram(ctx, buf[:n], src.Addr(), now)
		case isTimeout(err):
			// Nothing to read; fall through to housekeeping and the close check.
		default:
			s.logger.Error("socket read failed", "error", err)
			return fmt.Errorf("failed to read from %s: %w", s.conn.LocalAddr(), err)
		}

		if now.Sub(lastEvict) >= s.config.EvictInterval {
			if n := s.receiver.EvictExpired(now); n > 0 {
				s.logger.Warn("discarded incomplete messages", "count", n)
			}
			if s.limiter != nil {
				metrics.RateLimitSources.Set(float64(s.limiter.Prune(now)))
			}
			lastEvict = now
		}
	}

	s.logger.Info("server stopping")
	return nil
}

func (s *Server) handleDatagram(ctx context.Context, datagram []byte, src netip.Addr, now time.Time) {
	metrics.DatagramBytes.Observe(float64(len(datagram)))

	if len(datagram) > gelf.MaxDatagramSize {
		metrics.DatagramsTotal.WithLabelValues("dropped").Inc()
		s.logger.Debug("dropped oversized datagram", "source", src, "bytes", len(datagram))
		return
	}
	if s.limiter != nil && !s.limiter.Allow(src, now) {
		metrics.DatagramsTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	msg, err := s.receiver.Decode(datagram)
	if err != nil {
		metrics.DatagramsTotal.WithLabelValues("dropped").Inc()
		s.logger.Debug("dropped datagram", "source", src, "bytes", len(datagram), "error", err)
		return
	}
	if msg == nil {
		metrics.DatagramsTotal.WithLabelValues("pending").Inc()
		return
	}
	metrics.DatagramsTotal.WithLabelValues("decoded").Inc()

	if s.queue == nil {
		s.emit(ctx, msg)
		return
	}
	s.enqueue(msg)
}

// enqueue hands msg to the worker, waiting at most one read timeout for
// room before dropping it.
func (s *Server) enqueue(msg *gelf.Message) {
	select {
	case s.queue <- msg:
		metrics.HandoffQueueDepth.Set(float64(len(s.queue)))
		return
	default:
	}

	timer := time.NewTimer(s.config.ReadTimeout)
	defer timer.Stop()
	select {
	case s.queue <- msg:
		metrics.HandoffQueueDepth.Set(float64(len(s.queue)))
	case <-timer.C:
		metrics.HandoffDroppedTotal.Inc()
		s.logger.Warn("message dropped",
			"error", core.ErrQueueFull,
			"host", msg.Host,
			"capacity", cap(s.queue),
		)
	}
}

func (s *Server) drain(ctx context.Context) {
	defer s.wg.Done()
	for msg := range s.queue {
		metrics.HandoffQueueDepth.Set(float64(len(s.queue)))
		s.emit(ctx, msg)
	}
}

func (s *Server) emit(ctx context.Context, msg *gelf.Message) {
	if err := s.sink.Emit(ctx, msg); err != nil {
		metrics.SinkErrorsTotal.Inc()
		s.logger.Warn("sink rejected message", "host", msg.Host, "error", err)
		if s.config.OnSinkError != nil {
			s.config.OnSinkError(msg, err)
		}
	}
}

// shutdown releases the socket and waits for queued messages to reach the sink.
func (s *Server) shutdown() {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("failed to close socket", "error", err)
	}
	if s.queue != nil {
		close(s.queue)
		s.wg.Wait()
		metrics.HandoffQueueDepth.Set(0)
	}
	s.logger.Info("server stopped")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
