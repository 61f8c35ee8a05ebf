package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/anglepub/internal/adc"
	"codeberg.org/mutker/anglepub/internal/api"
	"codeberg.org/mutker/anglepub/internal/config"
	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/metrics"
	"codeberg.org/mutker/anglepub/internal/pid"
	"codeberg.org/mutker/anglepub/internal/publish"
	"codeberg.org/mutker/anglepub/internal/sampler"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

var cfg *config.Config

// setup loads the configuration and initializes logging. It exits the
// process on failure.
func setup() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Options{
		Level:     level,
		File:      cfg.LogFile,
		IsService: logger.IsService(),
	}); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Debug().Str("file", cfg.File).Msg("Config loaded")
}

func main() {
	setup()

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.FatalWithCode(asError(err)).Msg("Another instance may be running")
	}

	code := run()

	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
	os.Exit(code)
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	device, err := openDevice()
	if err != nil {
		logger.ErrorWithCode(asError(err)).Msg("Failed to initialize ADC")
		return 1
	}
	defer closeDevice(device)

	ctrl, err := sampler.NewController(cfg.Frequency, cfg.FastMode, logger.New("controller"))
	if err != nil {
		logger.ErrorWithCode(asError(err)).Msg("Invalid startup parameters")
		return 1
	}

	broker := publish.NewBroker(cfg.Publish.Topic, logger.New("publisher"))
	stats := telemetry.NewCollector()

	recorder, err := metrics.NewService(metrics.Config{
		DBPath:       cfg.Metrics.DBPath,
		BackupDir:    cfg.Metrics.BackupDir,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
		Enabled:      cfg.Metrics.Enabled,
	}, logger.New("metrics"))
	if err != nil {
		logger.ErrorWithCode(asError(err)).Msg("Failed to initialize sample history")
		return 1
	}

	var sinks sync.WaitGroup
	forward := func(sink publish.Sink, name string) {
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			log := logger.New(name)
			if err := publish.Forward(ctx, broker, sink, log); err != nil {
				log.Error().Err(err).Msg("Forwarder stopped")
			}
			if err := sink.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close sink")
			}
		}()
	}

	if recorder.Enabled() {
		forward(recorder, "metrics")
	}

	if cfg.MQTT.Enabled {
		topic := cfg.MQTT.Topic
		if topic == "" {
			topic = cfg.Publish.Topic
		}
		sink := publish.NewMQTTSink(publish.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			Topic:          topic,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            byte(cfg.MQTT.QoS),
			Retained:       cfg.MQTT.Retained,
			FrameID:        cfg.Publish.FrameID,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger.New("mqtt"))
		// Auto-reconnect covers later outages; a failed first connect is not fatal
		if err := sink.Connect(); err != nil {
			logger.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT broker unavailable")
		}
		forward(sink, "mqtt")
	}

	var server *api.Server
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		server = api.NewServer(api.Config{
			Listen:  cfg.API.Listen,
			FrameID: cfg.Publish.FrameID,
		}, ctrl, broker, stats, recorder, logger.New("api"))

		go func() {
			if err := server.ListenAndServe(); err != nil {
				logger.ErrorWithCode(asError(err)).Msg("API server failed")
				cancel()
			}
		}()
	}

	watchConfig(ctx, ctrl)

	policy := sampler.NewPolicy(device, sampler.Channels{
		Primary:   cfg.Device.PrimaryChannel,
		Secondary: cfg.Device.SecondaryChannel,
		Reference: cfg.Device.ReferenceChannel,
	}, cfg.ReferenceConstant)
	loop := sampler.NewLoop(policy, ctrl, broker, logger.New("sampler"), sampler.WithCollector(stats))

	code := 0
	if err := loop.Run(ctx); err != nil {
		logger.ErrorWithCode(asError(errors.New().Wrap(errors.ErrMainLoop, err))).Msg("Error in main loop")
		code = 1
	}

	var srv apiServer
	if server != nil {
		srv = server
	}
	shutdown(srv, broker, &sinks)
	logStats(stats.Snapshot())

	return code
}

func openDevice() (adc.Device, error) {
	var device adc.Device
	if cfg.Device.Simulate {
		logger.Info().Msg("Using simulated ADC")
		device = adc.NewSimulator()
	} else {
		d, err := adc.OpenADS1115(cfg.Device.Bus, uint16(cfg.Device.Address), logger.New("adc"))
		if err != nil {
			return nil, err
		}
		device = d
	}

	if err := configureDevice(device, adc.DefaultSettings()); err != nil {
		return nil, err
	}

	return device, nil
}

// configureDevice applies settings once. The device is closed if that fails.
func configureDevice(device adc.Device, settings adc.Settings) error {
	if err := device.Configure(settings); err != nil {
		closeDevice(device)
		return err
	}
	return nil
}

func closeDevice(device adc.Device) {
	if err := device.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close ADC")
	}
}

// watchConfig applies frequency and fast mode edits of the config file.
func watchConfig(ctx context.Context, ctrl *sampler.Controller) {
	if cfg.File == "" {
		return
	}

	last := cfg
	err := cfg.Watch(ctx, func(next *config.Config) {
		change := last.Changes(next)
		last = next
		if change.Empty() {
			return
		}
		logger.Info().Str("file", next.File).Msg("Config file changed")
		if err := ctrl.Apply(sampler.Update{FrequencyHz: change.Frequency, FastMode: change.FastMode}); err != nil {
			logger.Warn().Err(err).Msg("Rejected parameter change from config file")
		}
	}, func(err error) {
		logger.Warn().Err(err).Msg("Failed to reload config file")
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Config file watch disabled")
	}
}

type apiServer interface {
	Shutdown(ctx context.Context) error
}

type publisher interface {
	Close()
}

// shutdown stops the API first so no request reaches a closed sink, then
// closes the broker, which ends the forwarders and websocket streams.
func shutdown(server apiServer, broker publisher, sinks *sync.WaitGroup) {
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	broker.Close()
	sinks.Wait()
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func logStats(s telemetry.Stats) {
	logger.Info().
		Uint64("cycles", s.Cycles).
		Uint64("published", s.Published).
		Uint64("suppressed", s.Suppressed).
		Uint64("device_reads", s.DeviceReads).
		Uint64("overruns", s.Overruns).
		Str("last_error", s.LastError).
		Msg("Sampling statistics")
}

// asError returns err as a coded error, wrapping plain errors as internal.
func asError(err error) errors.Error {
	var coded errors.Error
	if errors.As(err, &coded) {
		return coded
	}
	return errors.New().Wrap(errors.ErrInternal, err)
}
