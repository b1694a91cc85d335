package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Shimmur/streamgen/seeding"
	"github.com/Shimmur/streamgen/stream"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	log "github.com/sirupsen/logrus"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportKafka     = "kafka"
)

// An Admission limits how many connections each remote host may open per
// interval. A nil Admission lets everyone in.
type Admission struct {
	limitStore limiter.Store
}

// NewAdmission returns nil when tokens is zero or less
func NewAdmission(tokens int, interval time.Duration) (*Admission, error) {
	if tokens <= 0 {
		return nil, nil
	}

	store, err := memorystore.New(&memorystore.Config{
		// Number of connections allowed per interval
		Tokens: uint64(tokens),

		// Interval until tokens reset
		Interval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create admission store: %w", err)
	}

	return &Admission{limitStore: store}, nil
}

// Allow takes a token for the remote's host
func (a *Admission) Allow(ctx context.Context, remote string) bool {
	if a == nil {
		return true
	}

	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	limit, remaining, reset, ok, err := a.limitStore.Take(ctx, host)
	log.Debugf("Checking admission for %s: %d %d %d %t", host, limit, remaining, reset, ok)
	if err != nil {
		log.Warnf("Unable to fetch admission limit for %s: %s", host, err)
		return false // Refuse it since we can't track
	}

	return ok
}

// Stop cleans up the limiter's resources
func (a *Admission) Stop() {
	if a == nil {
		return
	}
	_ = a.limitStore.Close(context.Background())
}

// A Server accepts stream clients and runs one session per connection, each
// on its own goroutine.
type Server struct {
	store       *ConfigStore
	builder     *stream.Builder
	tracker     *SessionTracker
	admission   *Admission
	seedTimeout time.Duration

	wg       sync.WaitGroup
	lock     sync.Mutex
	draining bool
}

func NewServer(store *ConfigStore, builder *stream.Builder, tracker *SessionTracker,
	admission *Admission, seedTimeout time.Duration) *Server {

	return &Server{
		store:       store,
		builder:     builder,
		tracker:     tracker,
		admission:   admission,
		seedTimeout: seedTimeout,
	}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Infof("Streaming on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warnf("Accept failed, retrying: %s", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}

			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.begin() {
			conn.Close()
			continue
		}
		go func() {
			defer s.done()
			s.handle(ctx, conn)
		}()
	}
}

// begin registers a session with the server. It returns false once Wait has
// been called, and the session must not start.
func (s *Server) begin() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) done() {
	s.wg.Done()
}

// Wait refuses any new sessions and blocks until every running one has
// returned
func (s *Server) Wait() {
	s.lock.Lock()
	s.draining = true
	s.lock.Unlock()

	s.wg.Wait()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if !s.admission.Allow(ctx, remote) {
		log.Infof("Refusing connection from %s: admission limit reached", remote)
		s.tracker.Rejected()
		return
	}

	log.Infof("Client connected from %s", remote)

	// Cancellation alone can't interrupt a write blocked on a client that
	// stopped reading, or the seed read. Expiring the deadline does.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	// The seed line, when one is asked for, is read here on the
	// connection's own goroutine, so a slow client never holds up accept.
	snap := s.store.Current()
	profile, err := s.builder.Build(snap, remote, &seeding.ConnSeed{Conn: conn, Timeout: s.seedTimeout})
	if err != nil {
		log.Warnf("Failed to set up stream for %s: %s", remote, err)
		return
	}

	_ = s.RunSession(ctx, profile, TransportTCP, conn)
}

// RunSession emits the profile's stream to w until writing fails or ctx is
// cancelled
func (s *Server) RunSession(ctx context.Context, profile *stream.Profile, transport string, w io.Writer) error {
	emitter, err := stream.NewEmitter(profile, s.tracker)
	if err != nil {
		log.Warnf("Failed to start stream for %s: %s", profile.Remote, err)
		return err
	}

	s.tracker.Started(profile, transport)

	log.WithFields(log.Fields{
		"session": profile.ID,
		"remote":  profile.Remote,
		"seed":    profile.Seed,
		"policy":  profile.Policy,
	}).Infof("Streaming %s at up to %v/sec over %s", profile.Describe(), profile.MaxRate, transport)

	return emitter.Run(ctx, w)
}
