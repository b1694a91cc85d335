package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Shimmur/streamgen/stream"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	loghttp "github.com/motemen/go-loghttp"
	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

// A SummaryReporter tallies finished sessions, values sent and refused
// connections, and reports them to New Relic on a 1 minute basis as an
// Insights event.
type SummaryReporter struct {
	client    *http.Client
	BaseURL   string
	InsertKey string
	AccountID string

	sessions     uint64
	emitted      uint64
	rejected     uint64
	ReportLooper director.Looper
	hostname     string
}

// Summary is one reporting interval's worth of counts
type Summary struct {
	Sessions uint64
	Emitted  uint64
	Rejected uint64
}

func (s Summary) IsZero() bool {
	return s.Sessions == 0 && s.Emitted == 0 && s.Rejected == 0
}

// NewSummaryReporter returns a properly configured reporter
func NewSummaryReporter(url, insertKey, accountID string) *SummaryReporter {
	client := cleanhttp.DefaultClient()
	client.Transport = &loghttp.Transport{
		LogRequest: func(req *http.Request) {
			log.Debugf("Reporting to New Relic: %s %s", req.Method, req.URL)
		},
		LogResponse: func(resp *http.Response) {
			log.Debugf("New Relic responded %d for %s", resp.StatusCode, resp.Request.URL)
		},
		Transport: client.Transport,
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatal("Unable to determine hostname! Can't continue")
	}

	return &SummaryReporter{
		client:       client,
		BaseURL:      url,
		InsertKey:    insertKey,
		AccountID:    accountID,
		ReportLooper: director.NewTimedLooper(director.FOREVER, 1*time.Minute, make(chan error)),
		hostname:     hostname,
	}
}

// SessionClosed satisfies stream.Observer
func (r *SummaryReporter) SessionClosed(profile *stream.Profile, stats stream.Stats) {
	atomic.AddUint64(&r.sessions, 1)
	atomic.AddUint64(&r.emitted, stats.Emitted)
}

// ConnectionRejected counts a connection the admission limiter refused
func (r *SummaryReporter) ConnectionRejected() {
	atomic.AddUint64(&r.rejected, 1)
}

// drain takes the current counts, subtracting them from the totals, so no
// increments are lost between load and reset.
func (r *SummaryReporter) drain() Summary {
	take := func(counter *uint64) uint64 {
		count := atomic.LoadUint64(counter)
		atomic.AddUint64(counter, 0-count)
		return count
	}

	return Summary{
		Sessions: take(&r.sessions),
		Emitted:  take(&r.emitted),
		Rejected: take(&r.rejected),
	}
}

// Run starts up a background goroutine that reports to New Relic on a 1 minute
// basis
func (r *SummaryReporter) Run() {
	log.Infof("Starting up New Relic reporter for account '%s'", r.AccountID)

	url := fmt.Sprintf("%s/%s/events", r.BaseURL, r.AccountID)

	go r.ReportLooper.Loop(func() error {
		summary := r.drain()

		if !summary.IsZero() {
			err := r.sendEvent(url, summary)
			// We _don't_ want to exit on error
			if err != nil {
				log.Errorf("Error reporting to New Relic: %s", err)
			}
		}

		return nil
	})
}

// sendEvent serializes JSON and sends it to New Relic Insights
func (r *SummaryReporter) sendEvent(url string, summary Summary) error {
	data, err := json.Marshal(struct {
		Time              string
		Hostname          string
		Sessions          uint64
		ValuesEmitted     uint64
		RejectedConnCount uint64
		EventType         string `json:"eventType"`
	}{
		Time:              time.Now().UTC().Format(time.RFC3339),
		Hostname:          r.hostname,
		Sessions:          summary.Sessions,
		ValuesEmitted:     summary.Emitted,
		RejectedConnCount: summary.Rejected,
		EventType:         "StreamGenSummary",
	})
	if err != nil {
		return fmt.Errorf("unable to encode JSON event: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Add("X-Insert-Key", r.InsertKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed making HTTP request to New Relic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad response from New Relic: %s", string(body))
	}

	return nil
}
