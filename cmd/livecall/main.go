// Command livecall runs the Amora live-call server: WebSocket transport,
// in-process matchmaking, TURN credential issuance, and call lifecycle
// eventing over NATS.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/amora/livecall/internal/ban"
	"github.com/amora/livecall/internal/matchmaking"
	"github.com/amora/livecall/internal/media"
	"github.com/amora/livecall/internal/messaging"
	"github.com/amora/livecall/internal/metrics"
	"github.com/amora/livecall/internal/profile"
	"github.com/amora/livecall/internal/protocol"
	"github.com/amora/livecall/internal/ratelimit"
	"github.com/amora/livecall/internal/session"
	"github.com/amora/livecall/internal/ws"
)

// callMeta remembers what the engine does not hand back later: who is in a
// session and when it started. Needed for the ended/expired events and the
// duration metric.
type callMeta struct {
	userA     string
	userB     string
	channel   string
	startedAt time.Time
}

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

	engineConfig := matchmaking.DefaultConfig()
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			engineConfig.SessionTTL = d
		}
	}
	if v := os.Getenv("CHANNEL_PREFIX"); v != "" {
		engineConfig.ChannelPrefix = v
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "livecall-1"
	}

	presence, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	profiles := profile.NewDirectory(presence.Client())
	banStore := ban.NewStore(presence.Client())
	limiter := ratelimit.NewLimiter(presence.Client())

	// --- TURN ---
	turnSecret := os.Getenv("TURN_SECRET")
	turnRealm := os.Getenv("TURN_REALM")
	if turnRealm == "" {
		turnRealm = "amora.app"
	}
	issuer, err := media.NewIssuer(turnSecret, turnRealm)
	if err != nil {
		log.Fatalf("failed to create credential issuer: %v", err)
	}

	// Optional embedded relay for single-host deployments.
	var relay *media.Relay
	if publicIP := os.Getenv("TURN_RELAY_PUBLIC_IP"); publicIP != "" {
		relayPort := 3478
		if v := os.Getenv("TURN_RELAY_PORT"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				relayPort = n
			}
		}
		relay, err = media.StartRelay(media.RelayConfig{
			Port:     relayPort,
			Realm:    turnRealm,
			Secret:   turnSecret,
			PublicIP: publicIP,
		})
		if err != nil {
			log.Fatalf("failed to start TURN relay: %v", err)
		}
	}

	engine := matchmaking.NewEngine(engineConfig, profiles, issuer)

	log.Printf("Amora live-call server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  session_ttl:     %s", engineConfig.SessionTTL)
	log.Printf("  channel_prefix:  %s", engineConfig.ChannelPrefix)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  turn_realm:      %s", issuer.Realm())
	log.Printf("  turn_relay:      %v", relay != nil)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// Session bookkeeping for events and metrics.
	var callsMu sync.Mutex
	calls := make(map[string]callMeta)     // sessionID -> meta
	queuedAt := make(map[string]time.Time) // userID -> join time (wait metric)

	rememberCall := func(m *matchmaking.Match) {
		callsMu.Lock()
		calls[m.SessionID] = callMeta{
			userA:     m.A.UserID,
			userB:     m.B.UserID,
			channel:   m.Channel,
			startedAt: time.Now(),
		}
		callsMu.Unlock()
	}
	forgetCall := func(sessionID string) (callMeta, bool) {
		callsMu.Lock()
		meta, ok := calls[sessionID]
		delete(calls, sessionID)
		callsMu.Unlock()
		return meta, ok
	}
	observeWait := func(userID string) {
		callsMu.Lock()
		joined, ok := queuedAt[userID]
		delete(queuedAt, userID)
		callsMu.Unlock()
		if ok {
			metrics.QueueWaitSeconds.Observe(time.Since(joined).Seconds())
		}
	}

	refreshGauges := func() {
		metrics.QueueSize.Set(float64(engine.QueueSize()))
		metrics.ActiveCalls.Set(float64(engine.ActiveCalls()))
		metrics.ConnectionsTotal.Set(float64(server.Connections().Count()))
	}

	// sendMatchFound delivers one party's payload over their socket.
	sendMatchFound := func(dispatcher *ws.MessageDispatcher, userID string, p matchmaking.PartyPayload) {
		conn := server.Connections().Get(userID)
		if conn == nil {
			log.Printf("[match] user %s vanished before delivery of session %s", userID, p.SessionID)
			return
		}
		dispatcher.Send(conn, protocol.TypeMatchFound, protocol.MatchFoundMsg{
			SessionID: p.SessionID,
			Channel:   p.Channel,
			RTC: protocol.RTCCredentials{
				Username:   p.RTC.Username,
				Credential: p.RTC.Credential,
				ExpiresAt:  p.RTC.ExpiresAt.Unix(),
			},
			Partner: protocol.PartnerSummary{
				ID:       p.Partner.ID,
				Nickname: p.Partner.Nickname,
				Age:      p.Partner.Age,
				Photo:    p.Partner.Photo,
			},
			ExpiresAt: p.ExpiresAt.Unix(),
		})
	}

	// endCallFor finishes housekeeping once a pairing has been released:
	// presence, NATS event, metrics.
	endCallFor := func(sessionID, reason string) {
		meta, ok := forgetCall(sessionID)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		presence.ClearCall(ctx, meta.userA)
		presence.ClearCall(ctx, meta.userB)

		ev := messaging.CallEvent{
			SessionID: sessionID,
			Channel:   meta.channel,
			UserA:     meta.userA,
			UserB:     meta.userB,
			StartedAt: meta.startedAt.Unix(),
			EndedAt:   time.Now().Unix(),
			Reason:    reason,
		}
		var pubErr error
		if reason == protocol.EndReasonExpired {
			pubErr = natsClient.PublishCallExpired(ev)
		} else {
			pubErr = natsClient.PublishCallEnded(ev)
		}
		if pubErr != nil {
			log.Printf("[call] publish end event for %s: %v", sessionID, pubErr)
		}

		metrics.CallsEndedTotal.WithLabelValues(reason).Inc()
		metrics.CallDurationSeconds.Observe(time.Since(meta.startedAt).Seconds())
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join_queue — enter the matchmaking queue, possibly matching immediately
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinQueue, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinQueueMsg)
		if !ok {
			return
		}
		uid := conn.UserID
		if err := joinMsg.Validate(); err != nil {
			dispatcher.SendError(conn, "invalid_request", err.Error())
			metrics.MatchesTotal.WithLabelValues("rejected").Inc()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Ban check. Fail-open on Redis errors: a cache outage must not take
		// matchmaking down with it.
		if banned, remaining, reason, err := banStore.IsBanned(ctx, uid); err == nil && banned {
			dispatcher.Send(conn, protocol.TypeBanned, protocol.BannedMsg{
				Duration: remaining,
				Reason:   reason,
			})
			metrics.MatchesTotal.WithLabelValues("rejected").Inc()
			return
		}

		if allowed, _ := limiter.Allow(ctx, uid, ratelimit.RuleJoinQueue); !allowed {
			dispatcher.Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: limiter.RetryAfter(ctx, uid, ratelimit.RuleJoinQueue),
			})
			metrics.MatchesTotal.WithLabelValues("rejected").Inc()
			return
		}

		p := matchmaking.Participant{
			ID:     uid,
			Gender: matchmaking.Gender(joinMsg.Gender),
			Age:    joinMsg.Age,
			Prefs: matchmaking.Preferences{
				DesiredGender: matchmaking.Gender(joinMsg.Preferences.DesiredGender),
				MinAge:        joinMsg.Preferences.MinAge,
				MaxAge:        joinMsg.Preferences.MaxAge,
			},
		}

		callsMu.Lock()
		queuedAt[uid] = time.Now()
		callsMu.Unlock()

		match, err := engine.Join(ctx, p)
		if err != nil {
			log.Printf("[queue] join failed for %s: %v", uid, err)
			switch {
			case errors.Is(err, matchmaking.ErrCredentialIssuance):
				// Both parties were re-enqueued; the entrant just waits on.
				dispatcher.SendError(conn, "credential_error", "could not start the call, still in queue")
				metrics.MatchesTotal.WithLabelValues("credential_error").Inc()
			case errors.Is(err, matchmaking.ErrIncompleteProfile):
				dispatcher.SendError(conn, "incomplete_profile", "complete your profile before joining the queue")
				metrics.MatchesTotal.WithLabelValues("rejected").Inc()
			default:
				// Transient backend failure (profile store unreachable etc).
				dispatcher.SendError(conn, "profile_unavailable", "could not load your profile, try again shortly")
				metrics.MatchesTotal.WithLabelValues("error").Inc()
			}
			refreshGauges()
			return
		}

		if match == nil {
			if !engine.InQueue(uid) {
				// A concurrent join matched this user while their own
				// profile lookup was in flight; that join's handler already
				// delivered match_found and set their presence to in_call.
				refreshGauges()
				return
			}
			// No partner yet; the user waits in the queue.
			presence.SetStatus(ctx, uid, session.StatusQueued)
			dispatcher.Send(conn, protocol.TypeQueueJoined, protocol.QueueJoinedMsg{
				QueueSize: engine.QueueSize(),
			})
			metrics.MatchesTotal.WithLabelValues("queued").Inc()
			refreshGauges()
			log.Printf("join_queue user=%s queued (size=%d)", uid, engine.QueueSize())
			return
		}

		// Matched. Deliver both payloads and mark both users in-call.
		rememberCall(match)
		presence.SetInCall(ctx, match.A.UserID, match.SessionID)
		presence.SetInCall(ctx, match.B.UserID, match.SessionID)
		sendMatchFound(dispatcher, match.A.UserID, match.A)
		sendMatchFound(dispatcher, match.B.UserID, match.B)
		observeWait(match.A.UserID)
		observeWait(match.B.UserID)

		if err := natsClient.PublishCallStarted(messaging.CallEvent{
			SessionID: match.SessionID,
			Channel:   match.Channel,
			UserA:     match.A.UserID,
			UserB:     match.B.UserID,
			StartedAt: time.Now().Unix(),
		}); err != nil {
			log.Printf("[call] publish start event for %s: %v", match.SessionID, err)
		}

		metrics.MatchesTotal.WithLabelValues("matched").Inc()
		refreshGauges()
		log.Printf("match session=%s users=%s,%s", match.SessionID, match.A.UserID, match.B.UserID)
	})

	// -----------------------------------------------------------------------
	// leave_queue — withdraw from matchmaking
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveQueue, func(conn *ws.Connection, msg interface{}) {
		uid := conn.UserID
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		engine.Leave(uid)
		callsMu.Lock()
		delete(queuedAt, uid)
		callsMu.Unlock()
		presence.SetStatus(ctx, uid, session.StatusIdle)
		refreshGauges()
		log.Printf("leave_queue user=%s", uid)
	})

	// -----------------------------------------------------------------------
	// end_call — hang up; the partner is told partner_left
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeEndCall, func(conn *ws.Connection, msg interface{}) {
		uid := conn.UserID

		partner, sessionID, ok := engine.EndCall(uid)
		if !ok {
			// Not in a call (or the call already ended). Nothing to tear down.
			return
		}

		if pconn := server.Connections().Get(partner); pconn != nil {
			dispatcher.Send(pconn, protocol.TypeCallEnded, protocol.CallEndedMsg{
				Reason: protocol.EndReasonPartnerLeft,
			})
		}
		endCallFor(sessionID, protocol.EndReasonPartnerLeft)
		refreshGauges()
		log.Printf("end_call user=%s session=%s", uid, sessionID)
	})

	// -----------------------------------------------------------------------
	// report — file a report against a call partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReport, func(conn *ws.Connection, msg interface{}) {
		reportMsg, ok := msg.(protocol.ReportMsg)
		if !ok {
			return
		}
		uid := conn.UserID
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if reportMsg.PartnerID == "" || reportMsg.PartnerID == uid {
			dispatcher.SendError(conn, "invalid_report", "invalid report target")
			return
		}

		if allowed, _ := limiter.Allow(ctx, uid, ratelimit.RuleReport); !allowed {
			dispatcher.Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: limiter.RetryAfter(ctx, uid, ratelimit.RuleReport),
			})
			return
		}

		if err := natsClient.PublishReport(messaging.ReportEvent{
			ReporterID: uid,
			ReportedID: reportMsg.PartnerID,
			SessionID:  reportMsg.SessionID,
			Reason:     reportMsg.Reason,
			FiledAt:    time.Now().Unix(),
		}); err != nil {
			log.Printf("[report] publish for %s: %v", uid, err)
		}
		metrics.ReportsTotal.Inc()

		banned, duration, err := banStore.ReportAndCheck(ctx, reportMsg.PartnerID, reportMsg.Reason)
		if err != nil {
			log.Printf("[report] ban check for %s: %v", reportMsg.PartnerID, err)
		}
		if banned {
			log.Printf("[report] user %s auto-banned for %s", reportMsg.PartnerID, duration)
			if bconn := server.Connections().Get(reportMsg.PartnerID); bconn != nil {
				dispatcher.Send(bconn, protocol.TypeBanned, protocol.BannedMsg{
					Duration: int(duration.Seconds()),
					Reason:   "multiple_reports",
				})
			}
		}
		log.Printf("report from user=%s against=%s session=%s", uid, reportMsg.PartnerID, reportMsg.SessionID)
	})

	config.MetricsHandler = metrics.Handler()
	config.Stats = func() (int, int) {
		return engine.QueueSize(), engine.ActiveCalls()
	}
	config.UpgradeGate = func(userID string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, userID, ratelimit.RuleConnect)
		return allowed
	}

	server = ws.NewServer(config, presence, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Candidates picked from the queue must still hold a live socket here.
	engine.SetAvailabilityCheck(server.IsConnected)

	// Hard session expiry: both parties are told the call is over.
	engine.SetOnExpire(func(sessionID, a, b string) {
		for _, uid := range []string{a, b} {
			if conn := server.Connections().Get(uid); conn != nil {
				dispatcher.Send(conn, protocol.TypeCallEnded, protocol.CallEndedMsg{
					Reason: protocol.EndReasonExpired,
				})
			}
		}
		endCallFor(sessionID, protocol.EndReasonExpired)
		refreshGauges()
	})

	// Disconnect: drop from queue, and if mid-call release the pairing and
	// tell the partner.
	server.SetOnDisconnect(func(uid string) {
		engine.Leave(uid)
		callsMu.Lock()
		delete(queuedAt, uid)
		callsMu.Unlock()

		if partner, sessionID, ok := engine.EndCall(uid); ok {
			if pconn := server.Connections().Get(partner); pconn != nil {
				dispatcher.Send(pconn, protocol.TypeCallEnded, protocol.CallEndedMsg{
					Reason: protocol.EndReasonPartnerDisconnected,
				})
			}
			endCallFor(sessionID, protocol.EndReasonPartnerDisconnected)
			log.Printf("[disconnect] user=%s ended session=%s", uid, sessionID)
		}
		refreshGauges()
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		engine.Close()
		natsClient.Close()
		if relay != nil {
			relay.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := presence.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
