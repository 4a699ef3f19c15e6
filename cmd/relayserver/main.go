package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pairline/relay/internal/ban"
	"github.com/pairline/relay/internal/messaging"
	"github.com/pairline/relay/internal/metrics"
	"github.com/pairline/relay/internal/moderation"
	"github.com/pairline/relay/internal/protocol"
	"github.com/pairline/relay/internal/ratelimit"
	"github.com/pairline/relay/internal/relay"
	"github.com/pairline/relay/internal/report"
	"github.com/pairline/relay/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	relayConfig := relay.DefaultConfig()
	if v := os.Getenv("GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			relayConfig.GracePeriod = d
		}
	}
	if v := os.Getenv("TRANSCRIPT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			relayConfig.TranscriptRetention = d
		}
	}
	if v := os.Getenv("VIDEO_TIMER_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			relayConfig.VideoTimerSeconds = n
		}
	}

	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	// --- Postgres (optional) ---
	// The durable report store is best-effort: without DATABASE_URL, or if
	// the connection fails, reports live in the in-process fallback only.
	var durable report.Durable
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			log.Printf("postgres open failed, reports stay in-memory: %v", err)
		} else if err := report.Migrate(db); err != nil {
			log.Printf("postgres migrate failed, reports stay in-memory: %v", err)
			db.Close()
		} else {
			durable = report.NewStore(db)
			defer db.Close()
		}
	} else {
		log.Printf("DATABASE_URL not set, reports stay in-memory")
	}
	intake := report.NewIntake(durable)

	// --- Redis (optional) ---
	// Bans and rate limits need shared state; without Redis both fail open.
	var (
		bans    *ban.Store
		limiter *ratelimit.Limiter
	)
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Printf("redis unreachable, bans and rate limits disabled: %v", err)
			rdb.Close()
		} else {
			bans = ban.NewStore(rdb)
			limiter = ratelimit.NewLimiter(rdb)
			defer rdb.Close()
		}
	} else {
		log.Printf("REDIS_ADDR not set, bans and rate limits disabled")
	}

	// --- NATS (optional) ---
	var events *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		natsConfig.Name = "relay-server"
		client, err := messaging.NewClient(natsConfig)
		if err != nil {
			log.Printf("NATS unreachable, moderation events disabled: %v", err)
		} else {
			events = client
		}
	} else {
		log.Printf("NATS_URL not set, moderation events disabled")
	}

	service := relay.NewService(relayConfig, intake, bans, limiter, events)

	log.Printf("Pairline relay server starting")
	log.Printf("  listen_addr:        %s", config.ListenAddr)
	log.Printf("  metrics_addr:       %s", metricsAddr)
	log.Printf("  worker_pool:        %d", config.WorkerPoolSize)
	log.Printf("  max_connections:    %d", config.MaxConnections)
	log.Printf("  read_timeout:       %s", config.ReadTimeout)
	log.Printf("  write_timeout:      %s", config.WriteTimeout)
	log.Printf("  grace_period:       %s", relayConfig.GracePeriod)
	log.Printf("  transcript_keep:    %s", relayConfig.TranscriptRetention)
	log.Printf("  durable_reports:    %v", durable != nil)
	log.Printf("  bans/rate_limits:   %v", bans != nil)
	log.Printf("  moderation_events:  %v", events != nil)

	dispatcher := ws.NewMessageDispatcher()

	dispatcher.Register(protocol.TypeJoinQueue, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinQueueMsg); ok {
			service.JoinQueue(conn, conn.UserID, m)
		}
	})
	dispatcher.Register(protocol.TypeJoinInstantChatQueue, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinInstantChatMsg); ok {
			service.JoinInstantChat(conn, conn.UserID, m)
		}
	})
	dispatcher.Register(protocol.TypeLeaveQueue, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.LeaveQueueMsg); ok {
			service.LeaveQueue(conn, conn.UserID, m)
		}
	})
	dispatcher.Register(protocol.TypeChatMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChatMessageMsg); ok {
			service.ChatMessage(conn, conn.UserID, m)
		}
	})
	dispatcher.Register(protocol.TypeEndCall, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.EndChatMsg); ok {
			service.EndCall(conn, conn.UserID, m)
		}
	})
	dispatcher.Register(protocol.TypeNextMatch, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.NextMatchMsg); ok {
			service.NextMatch(conn, conn.UserID, m)
		}
	})
	dispatcher.Register(protocol.TypeReportUser, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ReportUserMsg); ok {
			service.Report(conn, conn.UserID, m)
		}
	})

	// All signaling types share one relay handler.
	signalHandler := func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SignalMsg); ok {
			service.Signal(conn, conn.UserID, m)
		}
	}
	for _, t := range []string{
		protocol.TypeOffer,
		protocol.TypeAnswer,
		protocol.TypeICECandidate,
		protocol.TypeConnectionRequest,
		protocol.TypeConnectionAccepted,
		protocol.TypeConnectionRejected,
	} {
		dispatcher.Register(t, signalHandler)
	}

	server := ws.NewServer(config)
	server.SetOnConnect(func(conn *ws.Connection) {
		service.HandleConnect(conn.UserID, conn)
	})
	server.SetOnMessage(dispatcher.Dispatch)
	server.SetOnDisconnect(func(conn *ws.Connection) {
		service.HandleDisconnect(conn.UserID, conn)
	})

	// Inbound moderation actions from the sidecar / admin surface.
	if events != nil {
		err := events.SubscribeModerationActions(func(data []byte) {
			var action moderation.Action
			if err := json.Unmarshal(data, &action); err != nil {
				log.Printf("moderation action unmarshal: %v", err)
				return
			}
			service.ApplyModerationAction(action)
		})
		if err != nil {
			log.Printf("moderation action subscribe failed: %v", err)
		}
	}

	// Metrics endpoint on its own listener, kept off the public port.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		events.Close()
		service.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
