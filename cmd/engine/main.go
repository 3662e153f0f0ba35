package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/hibiken/asynq"
	"github.com/pion/mdns/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/action/executors"
	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/config"
	"github.com/austin-smith/fusion-bridge-sub010/internal/db"
	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/metrics"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/mqtt"
	"github.com/austin-smith/fusion-bridge-sub010/internal/redis"
	"github.com/austin-smith/fusion-bridge-sub010/internal/rulefile"
	"github.com/austin-smith/fusion-bridge-sub010/internal/taskqueue"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
	"github.com/austin-smith/fusion-bridge-sub010/internal/utils"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/api"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/stream"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.InitLogging("info", "console")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	utils.InitLogging(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbConn.Close()
	if cfg.Database.Migrate {
		if err := dbConn.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	var topology engine.TopologyStore = dbConn
	var invalidator interface {
		mqtt.Invalidator
		api.ContextInvalidator
	}
	var areaCache executors.AreaInvalidator
	redisClient, err := redis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, device context is read from the database")
	} else {
		defer redisClient.Close()
		cache := redis.NewContextCache(redisClient, dbConn, cfg.Redis.ContextCacheTTL)
		topology, invalidator, areaCache = cache, cache, cache
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg)
		gatherer = reg
	}

	var (
		mqttClient MQTT.Client
		subscriber *mqtt.Subscriber
		publisher  executors.Publisher
	)
	if cfg.MQTT.Broker != "" {
		mqttClient = mqtt.NewClient(cfg.MQTT.Broker, cfg.MQTT.ClientID, func(c MQTT.Client) {
			subscriber.Subscribe(c)
		})
		publisher = mqtt.NewPublisher(mqttClient, cfg.MQTT.PublishTimeout)
	} else {
		log.Warn().Msg("mqtt.broker not set, device and area actions are disabled")
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	var queue *taskqueue.Client
	var pushQueue executors.PushEnqueuer
	if cfg.Queue.Enabled && redisClient != nil {
		queue = taskqueue.NewClient(redisOpt, cfg.Queue.DispatchTimeout)
		defer queue.Close()
		pushQueue = queue
	}

	auditSvc := audit.NewService(dbConn)
	registry := action.NewRegistry()
	executors.Register(registry, executors.Deps{
		Publisher: publisher,
		Areas:     dbConn,
		AreaCache: areaCache,
		Events:    dbConn,
		Bookmarks: dbConn,
		Push:      pushQueue,
	})
	temporalSvc := temporal.NewService(dbConn, cfg.Automation.TemporalQueryTimeout, sink)
	temporalSvc.SetMaxEvents(cfg.Automation.TemporalMaxEvents)
	pipeline := action.NewPipeline(registry, auditSvc, action.Config{
		ActionTimeout:  cfg.Automation.ActionTimeout,
		MaxRetries:     cfg.Automation.MaxRetries,
		InitialBackoff: cfg.Automation.InitialBackoff,
		MaxBackoff:     cfg.Automation.MaxBackoff,
	}, sink)

	eng := engine.NewEngine(engine.Deps{
		Topology:        topology,
		Temporal:        temporalSvc,
		Pipeline:        pipeline,
		Audit:           auditSvc,
		Metrics:         sink,
		DefaultTimeZone: cfg.Automation.DefaultTimeZone,
	})
	hub := stream.NewHub()
	eng.AddObserver(hub)

	rules, err := dbConn.ListRules(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load rules")
	}
	report := eng.SyncRules(ctx, rules)
	for id, reason := range report.Invalid {
		log.Warn().Str("rule_id", id).Str("reason", reason).Msg("invalid stored rule")
	}
	if cfg.Automation.RulesFile != "" {
		loader := rulefile.NewLoader(cfg.Automation.RulesFile, dbConn, eng)
		if _, err := loader.Load(ctx); err != nil {
			log.Error().Err(err).Msg("failed to apply rule file")
		}
		if err := loader.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("rule file watcher not started")
		}
	}
	eng.Start()

	ingest := &recorder{history: dbConn, topology: topology, engine: eng}
	var worker *taskqueue.Worker
	var pushSender *taskqueue.PushSender
	if cfg.Push.GatewayURL != "" {
		pushSender = taskqueue.NewPushSender(cfg.Push.GatewayURL, cfg.Push.Token, cfg.Push.Timeout)
	}
	if queue != nil {
		worker = taskqueue.NewWorker(redisOpt, cfg.Queue.Concurrency, taskqueue.NewHandlers(ingest, pushSender))
		if err := worker.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start task workers")
		}
	}

	submit := func(ctx context.Context, event models.StandardizedEvent) (bool, error) {
		if queue != nil {
			return true, queue.EnqueueDispatch(ctx, event)
		}
		_, err := ingest.DispatchEvent(ctx, event)
		return false, err
	}

	if mqttClient != nil {
		subscriber = mqtt.NewSubscriber(cfg.MQTT.EventTopic, func(ctx context.Context, event models.StandardizedEvent) error {
			_, err := submit(ctx, event)
			return err
		}, invalidator)
		if err := mqtt.Connect(mqttClient, 30*time.Second); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt")
		}
		defer mqttClient.Disconnect(250)
	}

	webServer := web.NewWebServer(web.Deps{
		Addr:        fmt.Sprintf(":%d", cfg.App.Port),
		Rules:       dbConn,
		Engine:      eng,
		Executions:  auditSvc,
		Events:      submit,
		Stream:      hub,
		Topology:    topology,
		Invalidator: invalidator,
		JWTSecret:   cfg.JWT.Secret,
		Gatherer:    gatherer,
		MetricsPath: cfg.Metrics.Path,
		Ready: func(ctx context.Context) error {
			if err := dbConn.Pool().Ping(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if redisClient != nil {
				if err := redisClient.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	if cfg.MDNS.Enabled {
		go startMDNSServer(cfg.MDNS.LocalName)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Automation.ShutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if worker != nil {
		worker.Shutdown()
	}
	if err := eng.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("engine shutdown")
	}
	hub.Close()
	log.Info().Msg("shutdown complete")
}

// recorder stores incoming events in the history before dispatching them
type recorder struct {
	history  executors.EventWriter
	topology engine.TopologyStore
	engine   *engine.Engine
}

func (r *recorder) DispatchEvent(ctx context.Context, event models.StandardizedEvent) ([]string, error) {
	var orgID string
	if dc, err := r.topology.GetDeviceContext(ctx, event.DeviceID); err == nil {
		orgID = dc.OrganizationID
	}
	if err := r.history.InsertEvent(ctx, event, orgID); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to record event")
	}
	return r.engine.DispatchEvent(ctx, event)
}

func startMDNSServer(localName string) {
	logger := log.With().Str("component", "mdns").Logger()
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		logger.Error().Err(err).Msg("resolve udp4 address")
		return
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		logger.Error().Err(err).Msg("resolve udp6 address")
		return
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		logger.Error().Err(err).Msg("listen udp4")
		return
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		logger.Error().Err(err).Msg("listen udp6")
		return
	}
	if _, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	}); err != nil {
		logger.Error().Err(err).Msg("start mdns server")
		return
	}
	logger.Info().Str("name", localName).Msg("advertising on mdns")
}
