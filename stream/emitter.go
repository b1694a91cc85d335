package stream

import (
	"context"
	"io"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is where an Emitter is in its loop
type State int

const (
	Sampling State = iota
	RateGated
	Writing
	Closed
)

func (s State) String() string {
	switch s {
	case Sampling:
		return "sampling"
	case RateGated:
		return "rate-gated"
	case Writing:
		return "writing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is the final accounting for a session
type Stats struct {
	Emitted uint64
	Elapsed time.Duration
	Err     error
}

// Throughput is values per second over the session
func (s Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Emitted) / s.Elapsed.Seconds()
}

// An Observer hears about every session that closes
type Observer interface {
	SessionClosed(profile *Profile, stats Stats)
}

// An Emitter drives one connection's stream. Everything it touches is owned
// by the connection; it is not safe for concurrent use.
type Emitter struct {
	profile  *Profile
	gate     *Gate
	observer Observer

	state   State
	buf     []byte
	emitted uint64
}

// NewEmitter returns an Emitter for the profile. observer may be nil.
func NewEmitter(profile *Profile, observer Observer) (*Emitter, error) {
	gate, err := NewGate(profile.MaxRate)
	if err != nil {
		return nil, err
	}

	return &Emitter{
		profile:  profile,
		gate:     gate,
		observer: observer,
		state:    Sampling,
		buf:      make([]byte, 0, 24),
	}, nil
}

// Run loops sampling → rate-gated → writing until a write fails. The
// context is only cancelled on process shutdown. Run returns the error that
// ended the session.
func (e *Emitter) Run(ctx context.Context, w io.Writer) error {
	e.profile.Started = time.Now()

	for {
		e.state = Sampling
		e.buf = strconv.AppendUint(e.buf[:0], e.profile.Next(), 10)
		e.buf = append(e.buf, '\n')

		e.state = RateGated
		if err := e.gate.Wait(ctx); err != nil {
			return e.close(err)
		}

		e.state = Writing
		if _, err := w.Write(e.buf); err != nil {
			return e.close(err)
		}
		e.emitted++
	}
}

// State returns the current loop state. Only the goroutine running the
// Emitter may call it.
func (e *Emitter) State() State {
	return e.state
}

func (e *Emitter) close(err error) error {
	e.state = Closed

	stats := Stats{
		Emitted: e.emitted,
		Elapsed: time.Since(e.profile.Started),
		Err:     err,
	}

	log.WithFields(log.Fields{
		"session": e.profile.ID,
		"remote":  e.profile.Remote,
	}).Infof("done serving %s (throughput %.2f nums/sec, %d values): %s",
		e.profile.Remote, stats.Throughput(), stats.Emitted, err)

	if e.observer != nil {
		e.observer.SessionClosed(e.profile, stats)
	}

	return err
}
