package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/distribution"
	"github.com/Shimmur/streamgen/metrics"
	"github.com/Shimmur/streamgen/seeding"
	"github.com/Shimmur/streamgen/stream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	director "github.com/relistan/go-director"
	. "github.com/smartystreets/goconvey/convey"
)

type testServer struct {
	*Server
	Addr    string
	Loader  *mockLoader
	Metrics *metrics.Metrics
	Tracker *SessionTracker
	Deriver *seeding.Deriver
	cancel  context.CancelFunc
}

func startTestServer(snap *config.Snapshot, admission *Admission) *testServer {
	loader := newMockLoader(snap)
	m := metrics.New()
	store, err := NewConfigStore(loader, director.NewFreeLooper(director.ONCE, make(chan error)), false, m)
	So(err, ShouldBeNil)

	deriver := seeding.NewDeriver(snap.DefaultSeed)
	tracker := NewSessionTracker(m, nil)
	builder := stream.NewBuilder(deriver, distribution.NewFactory(nil))
	server := NewServer(store, builder, tracker, admission, 200*time.Millisecond)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	So(err, ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Serve(ctx, listener) }()

	return &testServer{
		Server:  server,
		Addr:    listener.Addr().String(),
		Loader:  loader,
		Metrics: m,
		Tracker: tracker,
		Deriver: deriver,
		cancel:  cancel,
	}
}

func (s *testServer) Stop() {
	s.cancel()
	s.Wait()
}

// expectedValues draws n values straight from a profile, no network involved
func expectedValues(snap *config.Snapshot, client seeding.ClientSeed, n int) []uint64 {
	builder := stream.NewBuilder(seeding.NewDeriver(snap.DefaultSeed), distribution.NewFactory(nil))
	profile, err := builder.Build(snap, "local", client)
	So(err, ShouldBeNil)

	values := make([]uint64, n)
	for i := range values {
		values[i] = profile.Next()
	}
	return values
}

func dial(addr string) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", addr)
	So(err, ShouldBeNil)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readValues(r *bufio.Reader, n int) []uint64 {
	var values []uint64
	for len(values) < n {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		v, err := strconv.ParseUint(strings.TrimSuffix(line, "\n"), 10, 64)
		So(err, ShouldBeNil)
		values = append(values, v)
	}
	return values
}

func Test_Serve(t *testing.T) {
	Convey("Serve()", t, func() {
		server := startTestServer(testSnapshot(), nil)
		Reset(server.Stop)

		Convey("streams the configured distribution", func() {
			conn, r := dial(server.Addr)
			defer conn.Close()

			So(readValues(r, 20), ShouldResemble, expectedValues(testSnapshot(), nil, 20))
		})

		Convey("reads the client's seed under the ask policy", func() {
			asked := testSnapshot()
			asked.SeedPolicy = config.SeedAsk
			server.Loader.Set(asked, false)
			So(server.store.Reload(), ShouldBeNil)

			conn, r := dial(server.Addr)
			defer conn.Close()

			_, err := conn.Write([]byte("42\n"))
			So(err, ShouldBeNil)

			fixed := testSnapshot()
			fixed.DefaultSeed = 42
			So(readValues(r, 20), ShouldResemble, expectedValues(fixed, nil, 20))
		})

		Convey("gives up on a client that never sends its seed", func() {
			asked := testSnapshot()
			asked.SeedPolicy = config.SeedAsk
			server.Loader.Set(asked, false)
			So(server.store.Reload(), ShouldBeNil)

			conn, _ := dial(server.Addr)
			defer conn.Close()

			_, err := conn.Read(make([]byte, 16))
			So(err, ShouldEqual, io.EOF)
		})

		Convey("keeps serving existing clients their original profile after a reload", func() {
			conn, r := dial(server.Addr)
			defer conn.Close()

			first := readValues(r, 5)
			So(first, ShouldHaveLength, 5)

			changed := testSnapshot()
			changed.DefaultSeed = 99
			server.Loader.Set(changed, false)
			So(server.store.Reload(), ShouldBeNil)

			expected := expectedValues(testSnapshot(), nil, 15)
			So(append(first, readValues(r, 10)...), ShouldResemble, expected)
		})

		Convey("tracks active sessions", func() {
			conn, r := dial(server.Addr)

			readValues(r, 2)
			So(server.Tracker.Active(), ShouldHaveLength, 1)
			So(server.Tracker.Active()[0].Transport, ShouldEqual, TransportTCP)
			So(testutil.ToFloat64(server.Metrics.ActiveSessions), ShouldEqual, 1)

			conn.Close()

			deadline := time.Now().Add(3 * time.Second)
			for len(server.Tracker.Active()) > 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			So(server.Tracker.Active(), ShouldHaveLength, 0)
			So(testutil.ToFloat64(server.Metrics.ValuesEmitted), ShouldBeGreaterThanOrEqualTo, 2)
		})
	})
}

func Test_ServerShutdown(t *testing.T) {
	Convey("Shutting down", t, func() {
		fast := testSnapshot()
		fast.MaxRate = 1e7
		server := startTestServer(fast, nil)
		Reset(server.Stop)

		Convey("doesn't wait forever on a client that stopped reading", func() {
			conn, _ := dial(server.Addr)
			defer conn.Close()

			deadline := time.Now().Add(3 * time.Second)
			for len(server.Tracker.Active()) == 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			So(server.Tracker.Active(), ShouldHaveLength, 1)

			// Let the send buffers fill so the writer blocks
			time.Sleep(time.Second)

			stopped := make(chan struct{})
			go func() {
				server.Stop()
				close(stopped)
			}()

			var returned bool
			select {
			case <-stopped:
				returned = true
			case <-time.After(3 * time.Second):
			}
			So(returned, ShouldBeTrue)
		})

		Convey("refuses sessions that start after Wait", func() {
			server.Stop()

			So(server.begin(), ShouldBeFalse)

			status := NewStatusServer(context.Background(), server.Server, server.Tracker, server.Metrics, server.Deriver)
			recorder := httptest.NewRecorder()
			status.Router().ServeHTTP(recorder, httptest.NewRequest("GET", "/stream/ws", nil))
			So(recorder.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func Test_Admission(t *testing.T) {
	Convey("Admission", t, func() {
		Convey("a nil admission lets everyone in", func() {
			var admission *Admission
			So(admission.Allow(context.Background(), "127.0.0.1:1234"), ShouldBeTrue)
		})

		Convey("is disabled without tokens", func() {
			admission, err := NewAdmission(0, time.Second)
			So(err, ShouldBeNil)
			So(admission, ShouldBeNil)
		})

		Convey("limits connections per host, not per port", func() {
			admission, err := NewAdmission(1, time.Minute)
			So(err, ShouldBeNil)
			Reset(admission.Stop)

			So(admission.Allow(context.Background(), "10.0.0.1:1000"), ShouldBeTrue)
			So(admission.Allow(context.Background(), "10.0.0.1:1001"), ShouldBeFalse)
			So(admission.Allow(context.Background(), "10.0.0.2:1000"), ShouldBeTrue)
		})

		Convey("closes refused connections straight away", func() {
			admission, err := NewAdmission(1, time.Minute)
			So(err, ShouldBeNil)

			server := startTestServer(testSnapshot(), admission)
			Reset(func() {
				server.Stop()
				admission.Stop()
			})

			first, r := dial(server.Addr)
			defer first.Close()
			So(readValues(r, 1), ShouldHaveLength, 1)

			second, _ := dial(server.Addr)
			defer second.Close()

			_, err = second.Read(make([]byte, 16))
			So(err, ShouldEqual, io.EOF)
			So(testutil.ToFloat64(server.Metrics.RejectedConnections), ShouldEqual, 1)
		})
	})
}
