package stream

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/distribution"
	"github.com/Shimmur/streamgen/seeding"
	. "github.com/smartystreets/goconvey/convey"
)

var errStopWriting = errors.New("intentional test error")

// limitedWriter accepts limit writes, then fails every one after that
type limitedWriter struct {
	bytes.Buffer
	limit  int
	writes int
	stamps []time.Time
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.writes >= w.limit {
		return 0, errStopWriting
	}
	w.writes++
	w.stamps = append(w.stamps, time.Now())
	return w.Buffer.Write(p)
}

func (w *limitedWriter) values() []uint64 {
	var out []uint64
	for _, line := range strings.Split(strings.TrimSpace(w.String()), "\n") {
		v, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			panic(err)
		}
		out = append(out, v)
	}
	return out
}

type recordingObserver struct {
	lock   sync.Mutex
	closed []Stats
}

func (o *recordingObserver) SessionClosed(profile *Profile, stats Stats) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.closed = append(o.closed, stats)
}

func exampleSnapshot() *config.Snapshot {
	snap := config.NewSnapshot()
	snap.Size = 10
	snap.MaxRate = 1000
	snap.Proportions = []config.Proportion{{Count: 2, Probability: 0.5}}
	snap.SeedPolicy = config.SeedFixed
	snap.DefaultSeed = 7
	return snap
}

func runSession(snap *config.Snapshot, client seeding.ClientSeed, limit int) (*Profile, *limitedWriter) {
	builder := NewBuilder(seeding.NewDeriver(1), distribution.NewFactory(nil))
	profile, err := builder.Build(snap, "127.0.0.1:5555", client)
	So(err, ShouldBeNil)

	emitter, err := NewEmitter(profile, nil)
	So(err, ShouldBeNil)

	w := &limitedWriter{limit: limit}
	err = emitter.Run(context.Background(), w)
	So(err, ShouldEqual, errStopWriting)
	So(emitter.State(), ShouldEqual, Closed)

	return profile, w
}

func Test_Emitter(t *testing.T) {
	Convey("Emitter", t, func() {
		Convey("writes newline-terminated decimal values from the universe", func() {
			profile, w := runSession(exampleSnapshot(), nil, 50)

			So(strings.Count(w.String(), "\n"), ShouldEqual, 50)

			universe := profile.Sampler.(*distribution.Categorical).Universe()
			members := make(map[uint64]bool, len(universe))
			for _, v := range universe {
				members[uint64(v)] = true
			}
			for _, v := range w.values() {
				So(members[v], ShouldBeTrue)
			}
		})

		Convey("produces the same stream for the same fixed seed", func() {
			_, first := runSession(exampleSnapshot(), nil, 30)
			_, second := runSession(exampleSnapshot(), nil, 30)

			So(first.String(), ShouldEqual, second.String())
		})

		Convey("a client seed of 42 matches a fixed seed of 42", func() {
			asked := exampleSnapshot()
			asked.SeedPolicy = config.SeedAsk

			fixed := exampleSnapshot()
			fixed.DefaultSeed = 42

			_, fromClient := runSession(asked, seeding.StaticSeed("42\n"), 30)
			_, fromConfig := runSession(fixed, nil, 30)

			So(fromClient.String(), ShouldEqual, fromConfig.String())
		})

		Convey("never exceeds the configured rate", func() {
			snap := exampleSnapshot()
			snap.MaxRate = 50

			_, w := runSession(snap, nil, 11)

			elapsed := w.stamps[len(w.stamps)-1].Sub(w.stamps[0])
			// Ten intervals of 20ms, with a little scheduler slack
			So(elapsed, ShouldBeGreaterThanOrEqualTo, 190*time.Millisecond)
		})

		Convey("stops when the context is cancelled", func() {
			snap := exampleSnapshot()
			snap.MaxRate = 1

			builder := NewBuilder(seeding.NewDeriver(1), distribution.NewFactory(nil))
			profile, err := builder.Build(snap, "127.0.0.1:5555", nil)
			So(err, ShouldBeNil)

			observer := &recordingObserver{}
			emitter, err := NewEmitter(profile, observer)
			So(err, ShouldBeNil)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err = emitter.Run(ctx, &limitedWriter{limit: 100})
			So(err, ShouldNotBeNil)
			So(observer.closed, ShouldHaveLength, 1)
			So(observer.closed[0].Emitted, ShouldEqual, 0)
		})

		Convey("tells the observer how much it sent", func() {
			builder := NewBuilder(seeding.NewDeriver(1), distribution.NewFactory(nil))
			profile, err := builder.Build(exampleSnapshot(), "127.0.0.1:5555", nil)
			So(err, ShouldBeNil)

			observer := &recordingObserver{}
			emitter, _ := NewEmitter(profile, observer)

			capture := LogCapture(func() {
				_ = emitter.Run(context.Background(), &limitedWriter{limit: 20})
			})

			So(observer.closed, ShouldHaveLength, 1)
			So(observer.closed[0].Emitted, ShouldEqual, 20)
			So(observer.closed[0].Err, ShouldEqual, errStopWriting)
			So(capture, ShouldContainSubstring, "nums/sec")
			So(capture, ShouldContainSubstring, profile.ID)
		})
	})
}

func Test_Gate(t *testing.T) {
	Convey("NewGate()", t, func() {
		gate, err := NewGate(4)
		So(err, ShouldBeNil)
		So(gate.Interval(), ShouldEqual, 250*time.Millisecond)

		for _, bad := range []float64{0, -1} {
			_, err := NewGate(bad)
			So(errors.Is(err, config.ErrInvalidRate), ShouldBeTrue)
		}
	})
}

func Test_State(t *testing.T) {
	Convey("State strings", t, func() {
		So(Sampling.String(), ShouldEqual, "sampling")
		So(RateGated.String(), ShouldEqual, "rate-gated")
		So(Writing.String(), ShouldEqual, "writing")
		So(Closed.String(), ShouldEqual, "closed")
	})
}

func Test_Stats(t *testing.T) {
	Convey("Throughput()", t, func() {
		So(Stats{Emitted: 10, Elapsed: 2 * time.Second}.Throughput(), ShouldEqual, 5.0)
		So(Stats{Emitted: 10}.Throughput(), ShouldEqual, 0.0)
	})
}
