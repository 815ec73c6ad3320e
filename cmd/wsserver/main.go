package main

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"

	"github.com/strangr/pairchat/internal/audit"
	"github.com/strangr/pairchat/internal/ice"
	"github.com/strangr/pairchat/internal/matching"
	"github.com/strangr/pairchat/internal/messaging"
	"github.com/strangr/pairchat/internal/metrics"
	"github.com/strangr/pairchat/internal/protocol"
	"github.com/strangr/pairchat/internal/ratelimit"
	"github.com/strangr/pairchat/internal/relay"
	"github.com/strangr/pairchat/internal/session"
	"github.com/strangr/pairchat/internal/ws"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	chatTypes := cfg.chatTypeList()

	iceServers, err := ice.Parse(cfg.ICEServers)
	if err != nil {
		log.Fatalf("invalid ICE_SERVERS: %v", err)
	}

	config := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
		TrustForwardedFor: cfg.TrustForwardedFor,
	}

	// --- NATS ---
	// Audit records are best effort; the server runs without them.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "pairchat-" + cfg.ServerName

	var auditor relay.Auditor
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Printf("failed to connect to NATS, audit records disabled: %v", err)
	} else {
		auditor = audit.NewPublisher(natsClient)
	}

	// --- Redis ---
	sessionStore, err := session.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	// A previous process under the same name may have died without
	// deleting its presence records.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := sessionStore.Reset(resetCtx); err != nil {
		log.Printf("failed to clear stale presence records: %v", err)
	}
	resetCancel()
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	log.Printf("pairchat WebSocket server starting")
	log.Printf("  listen_addr:       %s", config.ListenAddr)
	log.Printf("  worker_pool:       %d", config.WorkerPoolSize)
	log.Printf("  max_connections:   %d", config.MaxConnections)
	log.Printf("  read_timeout:      %s", config.ReadTimeout)
	log.Printf("  write_timeout:     %s", config.WriteTimeout)
	log.Printf("  heartbeat:         %s (+%s)", config.Heartbeat.Interval, config.Heartbeat.Timeout)
	log.Printf("  trust_forwarded:   %v", config.TrustForwardedFor)
	log.Printf("  nats_url:          %s", natsConfig.URL)
	log.Printf("  redis_addr:        %s", cfg.RedisAddr)
	log.Printf("  server_name:       %s", cfg.ServerName)
	log.Printf("  chat_types:        %v (default %s)", chatTypes, cfg.DefaultChatType)
	log.Printf("  sweep_interval:    %s", cfg.SweepInterval)
	log.Printf("  repair_grace:      %s", cfg.RePairGrace)
	log.Printf("  ice_servers:       %d", len(iceServers))

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	matchmaker := matching.NewMatchmaker(matching.Config{
		SweepInterval:   cfg.SweepInterval,
		RePairGrace:     cfg.RePairGrace,
		DefaultChatType: cfg.DefaultChatType,
		ChatTypes:       chatTypes,
	}, server)

	relayer := relay.New(matchmaker, server, auditor, cfg.AuditTimeout)

	// limited reports whether conn is over rule and tells the client when
	// it may retry.
	limited := func(conn *ws.Connection, rule ratelimit.Rule) bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		ok, retry := limiter.Check(ctx, conn.ID, rule)
		if ok {
			return false
		}
		if err := server.Send(conn.ID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(math.Ceil(retry.Seconds())),
		}); err != nil {
			log.Printf("rate-limited notice to %s failed: %v", conn.ID, err)
		}
		return true
	}

	// -----------------------------------------------------------------------
	// find-partner: join a waiting line or pair immediately
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeFindPartner, func(conn *ws.Connection, msg interface{}) {
		findMsg, ok := msg.(protocol.FindPartnerMsg)
		if !ok {
			return
		}
		if findMsg.ChatType != "" && !lo.Contains(chatTypes, findMsg.ChatType) {
			dispatcher.SendError(conn, "invalid_chat_type", "unsupported chat type")
			return
		}
		if limited(conn, ratelimit.RuleFind) {
			return
		}

		if err := matchmaker.RequestPartner(conn.ID, findMsg.ChatType); err != nil {
			log.Printf("find-partner from session=%s: %v", conn.ID, err)
			if errors.Is(err, matching.ErrStopped) {
				dispatcher.SendError(conn, "unavailable", "server is shutting down")
			}
		}
	})

	// -----------------------------------------------------------------------
	// next-partner: leave the current partner and look again
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeNextPartner, func(conn *ws.Connection, msg interface{}) {
		if limited(conn, ratelimit.RuleNext) {
			return
		}
		if err := matchmaker.NextPartner(conn.ID); err != nil {
			log.Printf("next-partner from session=%s: %v", conn.ID, err)
		}
	})

	// -----------------------------------------------------------------------
	// report-user: record an abuse report against the current partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReportUser, func(conn *ws.Connection, msg interface{}) {
		reportMsg, ok := msg.(protocol.ReportUserMsg)
		if !ok {
			return
		}
		if limited(conn, ratelimit.RuleReport) {
			return
		}
		if !relayer.Report(conn.ID, reportMsg.Reason, reportMsg.Details) {
			dispatcher.SendError(conn, "no_partner", "no partner to report")
		}
	})

	// -----------------------------------------------------------------------
	// offer / answer / ice-candidate / chat-message: pass through to partner
	// -----------------------------------------------------------------------
	for _, kind := range []string{
		protocol.TypeOffer,
		protocol.TypeAnswer,
		protocol.TypeICECandidate,
		protocol.TypeChatMessage,
	} {
		kind := kind
		dispatcher.Register(kind, func(conn *ws.Connection, msg interface{}) {
			sm, ok := msg.(protocol.SignalMsg)
			if !ok {
				return
			}
			if err := relayer.Forward(conn.ID, kind, sm.Payload); err != nil {
				log.Printf("[relay] %s from session=%s: %v", kind, conn.ID, err)
			}
		})
	}

	server.SetAdmit(func(ctx context.Context, address string) (bool, time.Duration) {
		return limiter.Check(ctx, address, ratelimit.RuleConnect)
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		if err := matchmaker.Register(conn.ID, conn.Address); err != nil {
			log.Printf("[connect] session=%s register failed: %v", conn.ID, err)
		}
		relayer.SessionStarted(conn.ID, conn.Address)
	})

	server.SetOnDisconnect(func(connID string) {
		if err := matchmaker.HandleDeparture(connID, matching.DepartureDisconnect); err != nil {
			log.Printf("[disconnect] session=%s: %v", connID, err)
		}
		relayer.SessionEnded(connID)
	})

	server.SetHealthStats(func() interface{} {
		st := matchmaker.Stats()

		// -1 when Redis cannot answer.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		presence, err := sessionStore.Online(ctx)
		if err != nil {
			presence = -1
		}

		return struct {
			Participants int            `json:"participants"`
			Waiting      map[string]int `json:"waiting"`
			Pairs        int            `json:"pairs"`
			Presence     int64          `json:"presence"`
		}{st.Participants, st.Waiting, st.Pairs, presence}
	})

	server.Handle("/metrics", metrics.Handler())
	server.Handle("/ice-servers", ice.Handler(iceServers))

	ctx, cancel := context.WithCancel(context.Background())
	matchmaker.Start(ctx)
	go matching.StartSweeper(ctx, matchmaker, cfg.SweepInterval)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		cancel()
		matchmaker.Stop()
		relayer.Wait()
		if natsClient != nil {
			if err := natsClient.Flush(2 * time.Second); err != nil {
				log.Printf("nats flush error: %v", err)
			}
			natsClient.Close()
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
