package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Shimmur/streamgen/config"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

func Test_StatusServer(t *testing.T) {
	Convey("StatusServer", t, func() {
		server := startTestServer(testSnapshot(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		status := NewStatusServer(ctx, server.Server, server.Tracker, server.Metrics, server.Deriver)
		httpServer := httptest.NewServer(status.Router())

		Reset(func() {
			cancel()
			httpServer.Close()
			server.Stop()
		})

		Convey("/state reports the config and active sessions", func() {
			conn, r := dial(server.Addr)
			defer conn.Close()
			readValues(r, 1)

			resp, err := http.Get(httpServer.URL + "/state")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.Header.Get("Content-Type"), ShouldEqual, "application/json")

			var report struct {
				Config struct {
					Size        int               `json:"size"`
					Proportions [][]float64       `json:"proportions"`
					SeedPolicy  config.SeedPolicy `json:"seed_policy"`
				} `json:"config"`
				ProcessSeed uint64     `json:"process_seed"`
				Sessions    []*Session `json:"sessions"`
			}
			So(json.NewDecoder(resp.Body).Decode(&report), ShouldBeNil)

			So(report.Config.Size, ShouldEqual, 10)
			So(report.Config.Proportions, ShouldResemble, [][]float64{{2, 0.5}})
			So(report.Config.SeedPolicy, ShouldEqual, config.SeedFixed)
			So(report.ProcessSeed, ShouldEqual, 7)
			So(report.Sessions, ShouldHaveLength, 1)
			So(report.Sessions[0].Seed, ShouldEqual, 7)
			So(report.Sessions[0].Sampler, ShouldContainSubstring, "weighted")
		})

		Convey("/metrics serves Prometheus text", func() {
			resp, err := http.Get(httpServer.URL + "/metrics")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(string(body), ShouldContainSubstring, "streamgen_active_sessions")
		})

		Convey("/stream/ws streams one value per frame", func() {
			asked := testSnapshot()
			asked.SeedPolicy = config.SeedAsk
			server.Loader.Set(asked, false)
			So(server.store.Reload(), ShouldBeNil)

			wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/stream/ws?seed=42"
			ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			So(err, ShouldBeNil)
			defer ws.Close()
			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

			var values []uint64
			for len(values) < 10 {
				kind, msg, err := ws.ReadMessage()
				So(err, ShouldBeNil)
				So(kind, ShouldEqual, websocket.TextMessage)
				So(strings.HasSuffix(string(msg), "\n"), ShouldBeTrue)

				v, err := strconv.ParseUint(strings.TrimSpace(string(msg)), 10, 64)
				So(err, ShouldBeNil)
				values = append(values, v)
			}

			fixed := testSnapshot()
			fixed.DefaultSeed = 42
			So(values, ShouldResemble, expectedValues(fixed, nil, 10))
		})
	})
}
