package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Nitro/sidecar-executor/loghooks"
	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/distribution"
	"github.com/Shimmur/streamgen/metrics"
	"github.com/Shimmur/streamgen/reporter"
	"github.com/Shimmur/streamgen/seeding"
	"github.com/Shimmur/streamgen/sink"
	"github.com/Shimmur/streamgen/state"
	"github.com/Shimmur/streamgen/stream"
	"github.com/kelseyhightower/envconfig"
	director "github.com/relistan/go-director"
	"github.com/relistan/rubberneck"
	log "github.com/sirupsen/logrus"
)

// The key the jump generator's checkpoint is stored under
const jumpStateKey = "jump"

type Config struct {
	ConfigPath     string        `envconfig:"CONFIG_PATH" default:"streamgen.toml"`
	ReloadInterval time.Duration `envconfig:"RELOAD_INTERVAL" default:"1s"`
	WatchConfig    bool          `envconfig:"WATCH_CONFIG" default:"true"`
	StrictReload   bool          `envconfig:"STRICT_RELOAD" default:"false"`

	SeedReadTimeout time.Duration `envconfig:"SEED_READ_TIMEOUT" default:"10s"`
	StatusAddr      string        `envconfig:"STATUS_ADDR" default:":8080"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON       bool   `envconfig:"LOG_JSON" default:"false"`
	SyslogAddress string `envconfig:"SYSLOG_ADDRESS"`

	StatePath         string `envconfig:"STATE_PATH"`
	StateReserveBlock uint64 `envconfig:"STATE_RESERVE_BLOCK" default:"1024"`

	AdmissionTokens   int           `envconfig:"ADMISSION_TOKENS" default:"0"`
	AdmissionInterval time.Duration `envconfig:"ADMISSION_INTERVAL" default:"1s"`

	ProfileCacheCapacity int `envconfig:"PROFILE_CACHE_CAPACITY" default:"1048576"`

	NewRelicURL       string `envconfig:"NEW_RELIC_URL" default:"https://insights-collector.newrelic.com/v1/accounts"`
	NewRelicInsertKey string `envconfig:"NEW_RELIC_INSERT_KEY"`
	NewRelicAccountID string `envconfig:"NEW_RELIC_ACCOUNT_ID"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC"`

	GeometricRate float64 `envconfig:"GEOMETRIC_RATE" default:"1000"`
	GeometricPort int     `envconfig:"GEOMETRIC_PORT" default:"8888"`
}

// syslogFormatter is the JSON layout relayed syslog lines are written in
func syslogFormatter() *log.JSONFormatter {
	return &log.JSONFormatter{
		FieldMap: log.FieldMap{
			log.FieldKeyTime:  "Timestamp",
			log.FieldKeyLevel: "Level",
			log.FieldKeyMsg:   "Payload",
			log.FieldKeyFunc:  "Func",
		},
	}
}

// configureLogging applies the level and format, and relays logs over UDP
// syslog when an address is configured. Relaying switches the output to the
// syslog JSON layout, since the hook sends lines as the logger formats them.
func configureLogging(cfg *Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}

	if cfg.SyslogAddress == "" {
		return
	}

	hook, err := loghooks.NewUDPHook(cfg.SyslogAddress)
	if err != nil {
		log.Errorf("Error adding syslog hook: %s", err)
		return
	}
	log.SetFormatter(syslogFormatter())
	log.AddHook(hook)
}

// loaderFor decides between the config document and the single-argument
// geometric mode. A lone argument that parses as a float is a success
// probability; anything else is a config path.
func loaderFor(args []string, cfg *Config) (Loader, bool, error) {
	if len(args) > 1 {
		return nil, false, fmt.Errorf("usage: streamgen [config-path | geometric-probability]")
	}

	if len(args) == 1 {
		if p, err := strconv.ParseFloat(args[0], 64); err == nil {
			snap, err := config.Geometric(p, cfg.GeometricRate, cfg.GeometricPort)
			if err != nil {
				return nil, false, fmt.Errorf("invalid geometric mode: %w", err)
			}
			return &StaticLoader{Snapshot: snap}, true, nil
		}
		cfg.ConfigPath = args[0]
	}

	return &FileLoader{Path: cfg.ConfigPath}, false, nil
}

// newDeriver resumes the jump sequence from the state store when there is a
// checkpoint to resume from, and reserves substreams in the store block at a
// time from then on
func newDeriver(processSeed uint64, stateStore *state.Store, block uint64) *seeding.Deriver {
	if stateStore == nil {
		return seeding.NewDeriver(processSeed)
	}

	deriver := resumeDeriver(processSeed, stateStore)
	deriver.ReserveBlocks(block, func(checkpoint *state.Checkpoint) error {
		stateStore.Add(jumpStateKey, checkpoint)
		return stateStore.Persist()
	})
	return deriver
}

func resumeDeriver(processSeed uint64, stateStore *state.Store) *seeding.Deriver {

	err := stateStore.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("Starting without saved generator state: %s", err)
	}

	checkpoint := stateStore.Get(jumpStateKey)
	if checkpoint == nil {
		return seeding.NewDeriver(processSeed)
	}

	deriver, err := seeding.NewDeriverFromCheckpoint(processSeed, checkpoint)
	if err != nil {
		log.Warnf("Ignoring saved generator state: %s", err)
		return seeding.NewDeriver(processSeed)
	}

	log.Infof("Resuming jump substreams at %d from %s", checkpoint.Substreams, stateStore.Path())
	return deriver
}

// flushState writes the jump generator's exact position to disk. Only safe
// once no more substreams will be handed out.
func flushState(stateStore *state.Store, deriver *seeding.Deriver) {
	stateStore.Add(jumpStateKey, deriver.Checkpoint())
	if err := stateStore.Persist(); err != nil {
		log.Errorf("Failed to flush generator state: %s", err)
	}
}

// runKafkaSession streams one profile into a Kafka topic until producing
// fails or the process shuts down
func runKafkaSession(ctx context.Context, server *Server, cfg *Config) {
	if !server.begin() {
		return
	}
	defer server.done()

	producer, err := sink.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Errorf("Kafka sink disabled: %s", err)
		return
	}
	defer producer.Close()

	profile, err := server.builder.Build(server.store.Current(), "kafka:"+cfg.KafkaTopic, nil)
	if err != nil {
		log.Errorf("Failed to set up Kafka stream: %s", err)
		return
	}

	w := sink.NewKafkaWriter(ctx, producer, cfg.KafkaTopic, profile.ID)
	_ = server.RunSession(ctx, profile, TransportKafka, w)
}

func main() {
	var cfg Config
	err := envconfig.Process("streamgen", &cfg)
	if err != nil {
		log.Fatal(err.Error())
	}
	configureLogging(&cfg)

	loader, geometric, err := loaderFor(os.Args[1:], &cfg)
	if err != nil {
		log.Fatal(err.Error())
	}
	rubberneck.Print(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	reloadLooper := director.NewImmediateTimedLooper(director.FOREVER, cfg.ReloadInterval, make(chan error))
	store, err := NewConfigStore(loader, reloadLooper, cfg.StrictReload, m)
	if err != nil {
		log.Fatalf("Unable to load initial config: %s", err)
	}
	initial := store.Current()

	if !geometric {
		go store.Run(ctx)
		go func() {
			if err := reloadLooper.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("Config reloading stopped: %s", err)
				stop()
			}
		}()

		if cfg.WatchConfig {
			if err := store.Watch(ctx, cfg.ConfigPath); err != nil {
				log.Warnf("Falling back to polling only: %s", err)
			}
		}
	}

	var templates *distribution.Templates
	if cfg.ProfileCacheCapacity > 0 {
		templates, err = distribution.NewTemplates(cfg.ProfileCacheCapacity)
		if err != nil {
			log.Fatalf("Unable to create template cache: %s", err)
		}
		defer templates.Close()
		m.WatchCache(templates)
	}

	var stateStore *state.Store
	if cfg.StatePath != "" {
		stateStore = state.NewStore(1, cfg.StatePath)
	}
	deriver := newDeriver(initial.DefaultSeed, stateStore, cfg.StateReserveBlock)

	var summary *reporter.SummaryReporter
	if cfg.NewRelicInsertKey != "" {
		summary = reporter.NewSummaryReporter(cfg.NewRelicURL, cfg.NewRelicInsertKey, cfg.NewRelicAccountID)
		summary.Run()
	}

	admission, err := NewAdmission(cfg.AdmissionTokens, cfg.AdmissionInterval)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer admission.Stop()

	tracker := NewSessionTracker(m, summary)
	builder := stream.NewBuilder(deriver, distribution.NewFactory(templates))
	server := NewServer(store, builder, tracker, admission, cfg.SeedReadTimeout)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", initial.Port))
	if err != nil {
		log.Fatalf("Unable to listen on port %d: %s", initial.Port, err)
	}

	status := NewStatusServer(ctx, server, tracker, m, deriver)
	go func() {
		if err := status.ListenAndServe(cfg.StatusAddr); err != nil {
			log.Fatalf("State server failed: %s", err)
		}
	}()

	if len(cfg.KafkaBrokers) > 0 && strings.TrimSpace(cfg.KafkaTopic) != "" {
		go runKafkaSession(ctx, server, &cfg)
	}

	err = server.Serve(ctx, listener)
	if err != nil {
		log.Errorf("Server stopped: %s", err)
	}

	log.Info("Shutting down, waiting on open connections")
	server.Wait()

	if stateStore != nil {
		flushState(stateStore, deriver)
	}
}
