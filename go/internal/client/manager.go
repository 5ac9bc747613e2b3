package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/gateway"
	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/store"
)

// Config holds client connection manager tunables.
type Config struct {
	// ServerURL is the http(s) base URL of the sync server.
	ServerURL string

	// ConnectTimeout bounds each transport handshake.
	ConnectTimeout time.Duration
	// RequestTimeout bounds each REST request.
	RequestTimeout time.Duration
	// WriteTimeout bounds each WebSocket write.
	WriteTimeout time.Duration

	// Backoff shapes reconnection delays.
	Backoff BackoffConfig
	// OverloadDelay is the minimum delay after an overload signal.
	OverloadDelay time.Duration
	// Breaker guards the push transport channel. The polling channel
	// carries its own breaker with the same configuration.
	Breaker BreakerConfig

	// HeartbeatInterval is the base probe cadence; quality tiers stretch
	// it.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long to wait for an ack before treating
	// the probe as a transport failure.
	HeartbeatTimeout time.Duration

	// PushGracePeriod is how long the client tries for a push transport
	// before the polling fallback starts alongside the retries.
	PushGracePeriod time.Duration
	// Poll configures the polling fallback.
	Poll PollerConfig

	// NotificationBuffer sizes the notifications channel.
	NotificationBuffer int
}

// DefaultConfig returns default client configuration.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL:          serverURL,
		ConnectTimeout:     5 * time.Second,
		RequestTimeout:     5 * time.Second,
		WriteTimeout:       5 * time.Second,
		Backoff:            DefaultBackoffConfig(),
		OverloadDelay:      10 * time.Second,
		Breaker:            DefaultBreakerConfig(),
		HeartbeatInterval:  10 * time.Second,
		HeartbeatTimeout:   5 * time.Second,
		PushGracePeriod:    10 * time.Second,
		Poll:               DefaultPollerConfig(),
		NotificationBuffer: 64,
	}
}

// State is an externally readable snapshot of the manager.
type State struct {
	Status        Status
	Quality       Quality
	Selection     store.SelectionState
	DisplayedItem string
	SessionID     string
	SessionCount  int
}

// Manager is the per-client connection manager: it negotiates transports,
// reconnects with jittered backoff, trips a circuit breaker under sustained
// failure, classifies quality from heartbeats, and reconciles optimistic
// state through the resolver. All state transitions happen on one control
// goroutine; public methods hand work to that loop.
type Manager struct {
	cfg     Config
	clock   clockwork.Clock
	httpc   *http.Client
	signals Signals

	resolver    *Resolver
	backoff     *Backoff
	pushBreaker *Breaker

	status  Status
	quality Quality

	// sessionID is written by the control loop and read by the poller
	// goroutine, so it gets its own lock.
	sessMu    sync.RWMutex
	sessionID string

	sessionCount int
	visible      bool
	online       bool

	push   pushTransport
	pushWS *wsTransport
	gen    int

	connectTimer      clockwork.Timer
	heartbeatTimer    clockwork.Timer
	heartbeatDeadline clockwork.Timer
	cooldownTimer     clockwork.Timer
	graceTimer        clockwork.Timer
	pendingHeartbeat  time.Time

	poller     *Poller
	pollCancel context.CancelFunc

	transportCh   chan transportEvent
	pollStates    chan gateway.StateResponse
	cmds          chan func(ctx context.Context)
	notifications chan Notification

	cancel  context.CancelFunc
	stopped chan struct{}

	extMu sync.RWMutex
	ext   State
}

// NewManager creates a Manager. The clock is injectable for tests; signals
// may be zero if the host never reports visibility or network transitions.
func NewManager(cfg Config, clock clockwork.Clock, signals Signals) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:           cfg,
		clock:         clock,
		httpc:         &http.Client{},
		signals:       signals,
		resolver:      NewResolver(),
		backoff:       NewBackoff(cfg.Backoff),
		pushBreaker:   NewBreaker(cfg.Breaker, clock),
		status:        StatusDisconnected,
		visible:       true,
		online:        true,
		transportCh:   make(chan transportEvent, 64),
		pollStates:    make(chan gateway.StateResponse, 16),
		cmds:          make(chan func(ctx context.Context), 16),
		notifications: make(chan Notification, cfg.NotificationBuffer),
		stopped:       make(chan struct{}),
	}
}

// Start launches the control loop and the first connection attempt.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

// Stop tears the manager down: the session leaves, the transport closes,
// and every timer is cancelled deterministically.
func (m *Manager) Stop() {
	if m.cancel == nil {
		// Never started; there is no control loop to wait for.
		return
	}
	m.cancel()
	<-m.stopped
}

// Notifications returns the user-facing event channel.
func (m *Manager) Notifications() <-chan Notification {
	return m.notifications
}

// State returns a snapshot for display.
func (m *Manager) State() State {
	m.extMu.RLock()
	defer m.extMu.RUnlock()
	return m.ext
}

// Select applies itemID optimistically and submits it to the server. The
// authoritative broadcast confirms or corrects it.
func (m *Manager) Select(itemID string) {
	m.enqueue(func(ctx context.Context) {
		m.selectItem(ctx, itemID)
	})
}

// Reconnect is the manual-reconnect affordance: it closes the breaker and
// attempts a connection immediately.
func (m *Manager) Reconnect() {
	m.enqueue(func(ctx context.Context) {
		if m.status.PushConnected() {
			return
		}
		m.pushBreaker.Reset()
		m.backoff.Reset()
		m.stopTimer(&m.connectTimer)
		m.stopTimer(&m.cooldownTimer)
		m.attemptConnect(ctx)
	})
}

func (m *Manager) enqueue(fn func(ctx context.Context)) {
	select {
	case m.cmds <- fn:
	case <-m.stopped:
	}
}

// run is the single control loop; every state transition happens here.
func (m *Manager) run(ctx context.Context) {
	defer m.teardown()

	m.attemptConnect(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case fn := <-m.cmds:
			fn(ctx)

		case visible, ok := <-m.signals.Visibility:
			if ok {
				m.handleVisibility(ctx, visible)
			}

		case online, ok := <-m.signals.Online:
			if ok {
				m.handleOnline(ctx, online)
			}

		case ev := <-m.transportCh:
			m.handleTransportEvent(ctx, ev)

		case snapshot := <-m.pollStates:
			m.handlePollState(snapshot)

		case <-timerChan(m.connectTimer):
			m.connectTimer = nil
			m.attemptConnect(ctx)

		case <-timerChan(m.cooldownTimer):
			// Cooldown elapsed: the breaker permits a half-open trial.
			m.cooldownTimer = nil
			m.attemptConnect(ctx)

		case <-timerChan(m.heartbeatTimer):
			m.heartbeatTimer = nil
			m.sendHeartbeat(ctx)

		case <-timerChan(m.heartbeatDeadline):
			m.heartbeatDeadline = nil
			m.handlePushFailure(ctx, &TimeoutError{Op: "heartbeat", Err: errors.New("no ack before deadline")})

		case <-timerChan(m.graceTimer):
			m.graceTimer = nil
			if !m.status.PushConnected() {
				m.startPolling(ctx)
			}
		}
	}
}

// attemptConnect drives one connection attempt, honoring the pause rules
// and the circuit breaker.
func (m *Manager) attemptConnect(ctx context.Context) {
	if m.status.PushConnected() || ctx.Err() != nil {
		return
	}
	if !m.online {
		m.setStatus(StatusDisconnected)
		return
	}
	if !m.visible {
		// Paused; visibility restoration re-verifies connectivity.
		return
	}

	if !m.pushBreaker.Allow() {
		m.setStatus(StatusCircuitOpen)
		m.startPolling(ctx)
		m.stopTimer(&m.cooldownTimer)
		m.cooldownTimer = m.clock.NewTimer(m.pushBreaker.RemainingCooldown())
		return
	}

	if m.sessionID == "" && m.backoff.Attempt() == 0 {
		m.setStatus(StatusConnecting)
	} else {
		m.setStatus(StatusReconnecting)
	}

	if err := m.establishPush(ctx); err != nil {
		m.handleConnectFailure(ctx, err)
		return
	}
	m.handleConnected(ctx)
}

// establishPush joins if needed, then negotiates transports in order:
// duplex WebSocket, then one-way SSE. Polling is not negotiated here; it is
// the scheduled fallback.
func (m *Manager) establishPush(ctx context.Context) error {
	if m.sessionID == "" {
		joinCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		result, err := m.doJoin(joinCtx)
		cancel()
		if err != nil {
			return err
		}
		m.setSessionID(result.SessionID)
		m.sessionCount = result.SessionCount
		m.resolver.Bind(result.SessionID)
		m.resolver.Resync(result.State)
		log.Info().
			Str("session_id", m.sessionID).
			Int64("version", result.State.Version).
			Msg("joined session")
	}

	ws, wsErr := dialWebSocket(ctx, m.cfg.ServerURL, m.sessionID, m.cfg.ConnectTimeout, m.cfg.WriteTimeout)
	if wsErr == nil {
		m.attachTransport(ws)
		m.pushWS = ws
		return nil
	}
	if IsFatal(wsErr) {
		return wsErr
	}
	if errors.Is(wsErr, registry.ErrUnknownSession) {
		// The server evicted us; rejoin on the next attempt.
		m.setSessionID("")
		return wsErr
	}
	log.Debug().Err(wsErr).Msg("websocket unavailable, trying SSE")

	sse, sseErr := openSSE(ctx, m.httpc, m.cfg.ServerURL, m.sessionID, m.cfg.ConnectTimeout)
	if sseErr == nil {
		m.attachTransport(sse)
		return nil
	}
	if errors.Is(sseErr, registry.ErrUnknownSession) {
		m.setSessionID("")
	}
	return sseErr
}

// setSessionID and getSessionID guard the one field shared between the
// control loop (writer) and the poller goroutine (reader, via doFetchState).
func (m *Manager) setSessionID(id string) {
	m.sessMu.Lock()
	m.sessionID = id
	m.sessMu.Unlock()
}

func (m *Manager) getSessionID() string {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	return m.sessionID
}

func (m *Manager) attachTransport(t pushTransport) {
	m.closePush()
	m.gen++
	m.push = t
	go t.ReadLoop(m.gen, m.transportCh)
}

// handleConnected runs on every successful connect, including recoveries:
// counters reset, polling stops, and local state is replaced wholesale by
// the authoritative snapshot.
func (m *Manager) handleConnected(ctx context.Context) {
	m.backoff.Reset()
	m.pushBreaker.Success()
	m.stopTimer(&m.graceTimer)
	m.stopPolling()

	m.setStatus(StatusConnected)
	log.Info().
		Str("transport", string(m.push.Kind())).
		Str("session_id", m.sessionID).
		Msg("connected")

	m.resync(ctx)
	m.scheduleHeartbeat()
}

// handleConnectFailure classifies a failed attempt: fatal errors stop
// retries, overload stretches the next delay, and the breaker may open.
func (m *Manager) handleConnectFailure(ctx context.Context, err error) {
	if IsFatal(err) {
		log.Error().Err(err).Msg("fatal connection failure")
		m.notify(Notification{Type: NotificationFatal, Err: err})
		m.setStatus(StatusDisconnected)
		return
	}

	m.pushBreaker.Failure()
	log.Warn().
		Err(err).
		Int("consecutive_failures", m.pushBreaker.Failures()).
		Msg("connection attempt failed")

	// Sustained failure degrades to polling even before the breaker
	// opens; the grace timer starts on the first failure.
	if m.graceTimer == nil && m.poller == nil {
		m.graceTimer = m.clock.NewTimer(m.cfg.PushGracePeriod)
	}

	if m.pushBreaker.State() == BreakerOpen {
		m.setStatus(StatusCircuitOpen)
		m.startPolling(ctx)
		m.stopTimer(&m.cooldownTimer)
		m.cooldownTimer = m.clock.NewTimer(m.pushBreaker.RemainingCooldown())
		return
	}

	delay := m.backoff.Next()
	if IsOverload(err) && delay < m.cfg.OverloadDelay {
		delay = m.cfg.OverloadDelay
	}
	m.setStatus(StatusReconnecting)
	m.stopTimer(&m.connectTimer)
	m.connectTimer = m.clock.NewTimer(delay)
}

// handleTransportEvent processes one event or terminal error from the
// active push transport. Stale generations are ignored.
func (m *Manager) handleTransportEvent(ctx context.Context, ev transportEvent) {
	if ev.gen != m.gen || m.push == nil {
		return
	}

	if ev.err != nil {
		log.Warn().Err(ev.err).Msg("push transport dropped")
		m.handlePushFailure(ctx, ev.err)
		return
	}

	payload, err := gateway.ParseEventPayload(ev.event)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(ev.event.Type)).Msg("dropping undecodable event")
		return
	}

	switch ev.event.Type {
	case gateway.EventTypeStateUpdate:
		m.applyBroadcast(ctx, payload.(gateway.StateUpdatePayload))

	case gateway.EventTypeSessionCount:
		p := payload.(gateway.SessionCountPayload)
		m.sessionCount = p.SessionCount
		m.syncExternal()
		m.notify(Notification{Type: NotificationSessionCount, SessionCount: p.SessionCount})

	case gateway.EventTypeHeartbeatAck:
		m.handleHeartbeatAck(payload.(gateway.HeartbeatAckPayload))

	case gateway.EventTypeError:
		p := payload.(gateway.ErrorPayload)
		m.handleServerRejection(ctx, p)

	default:
		log.Debug().Str("event_type", string(ev.event.Type)).Msg("ignoring unexpected server event")
	}
}

// applyBroadcast runs a broadcast through the conflict resolver.
func (m *Manager) applyBroadcast(ctx context.Context, p gateway.StateUpdatePayload) {
	result := m.resolver.ApplyBroadcast(p)
	m.sessionCount = p.SessionCount
	m.syncExternal()

	if result.Corrected {
		m.notify(Notification{
			Type:          NotificationCorrection,
			State:         m.resolver.State(),
			DisplayedItem: m.resolver.DisplayedItem(),
		})
	} else if result.Applied {
		m.notify(Notification{
			Type:          NotificationState,
			State:         m.resolver.State(),
			DisplayedItem: m.resolver.DisplayedItem(),
		})
	}

	if result.GapDetected {
		log.Warn().
			Int64("version", p.Version).
			Msg("broadcast gap detected, resyncing")
		m.resync(ctx)
	}
}

// handleServerRejection reverts the optimistic value after the server
// rejected this session's own mutation.
func (m *Manager) handleServerRejection(ctx context.Context, p gateway.ErrorPayload) {
	log.Warn().
		Str("code", p.Code).
		Str("message", p.Message).
		Msg("server rejected request")

	if p.Code == "unknown_session" {
		m.handleSessionLoss(ctx)
		return
	}

	m.resolver.Revert()
	m.syncExternal()
	m.notify(Notification{
		Type:          NotificationRejected,
		State:         m.resolver.State(),
		DisplayedItem: m.resolver.DisplayedItem(),
		Err:           errors.New(p.Message),
	})
}

// handlePushFailure tears the push transport down and begins reconnecting.
func (m *Manager) handlePushFailure(ctx context.Context, err error) {
	m.closePush()
	m.stopTimer(&m.heartbeatTimer)
	m.stopTimer(&m.heartbeatDeadline)
	m.pendingHeartbeat = time.Time{}
	m.quality = QualityUnknown

	if ctx.Err() != nil {
		return
	}
	if !m.online || !m.visible {
		m.setStatus(StatusDisconnected)
		return
	}

	m.setStatus(StatusReconnecting)
	m.stopTimer(&m.connectTimer)
	m.connectTimer = m.clock.NewTimer(0) // first retry is immediate
}

// handleSessionLoss rejoins after the server evicted this session.
func (m *Manager) handleSessionLoss(ctx context.Context) {
	log.Warn().Str("session_id", m.sessionID).Msg("session evicted by server, rejoining")
	m.setSessionID("")
	m.handlePushFailure(ctx, registry.ErrUnknownSession)
}

// selectItem applies the optimistic update and submits the mutation over
// the best available channel.
func (m *Manager) selectItem(ctx context.Context, itemID string) {
	if m.sessionID == "" {
		m.notify(Notification{
			Type: NotificationRejected,
			Err:  errors.New("no session; not connected yet"),
		})
		return
	}

	m.resolver.ApplyOptimistic(itemID)
	m.syncExternal()
	m.notify(Notification{
		Type:          NotificationState,
		State:         m.resolver.State(),
		DisplayedItem: itemID,
	})

	if m.pushWS != nil && m.status.PushConnected() {
		event, err := gateway.NewEvent(gateway.EventTypeSetSelection, gateway.SetSelectionPayload{ItemID: itemID})
		if err == nil {
			if sendErr := m.pushWS.Send(event); sendErr != nil {
				m.handlePushFailure(ctx, sendErr)
			}
			return
		}
		log.Error().Err(err).Msg("failed to build selection event")
	}

	// SSE and polling sessions mutate over REST.
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	state, err := m.doSetSelection(reqCtx, itemID)
	cancel()
	if err != nil {
		if errors.Is(err, registry.ErrUnknownSession) {
			m.handleSessionLoss(ctx)
			return
		}
		m.resolver.Revert()
		m.syncExternal()
		m.notify(Notification{
			Type:          NotificationRejected,
			State:         m.resolver.State(),
			DisplayedItem: m.resolver.DisplayedItem(),
			Err:           err,
		})
		return
	}

	// The REST response is the confirmation; the push echo (if any) is
	// suppressed by origin.
	m.applyBroadcast(ctx, gateway.StateUpdatePayload{
		ItemID:          state.ItemID,
		Version:         state.Version,
		UpdatedAt:       state.UpdatedAt,
		OriginSessionID: state.OriginSessionID,
		SessionCount:    m.sessionCount,
	})
}

// sendHeartbeat issues one liveness/latency probe over the active channel.
func (m *Manager) sendHeartbeat(ctx context.Context) {
	if !m.status.PushConnected() || !m.visible {
		return
	}

	sentAt := m.clock.Now()

	if m.pushWS != nil {
		event, err := gateway.NewEvent(gateway.EventTypeHeartbeat, gateway.HeartbeatPayload{SentAt: sentAt})
		if err != nil {
			log.Error().Err(err).Msg("failed to build heartbeat event")
			m.scheduleHeartbeat()
			return
		}
		if sendErr := m.pushWS.Send(event); sendErr != nil {
			m.handlePushFailure(ctx, sendErr)
			return
		}
		m.pendingHeartbeat = sentAt
		m.stopTimer(&m.heartbeatDeadline)
		m.heartbeatDeadline = m.clock.NewTimer(m.cfg.HeartbeatTimeout)
		return
	}

	// SSE sessions probe over REST; the round trip is measured here.
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.HeartbeatTimeout)
	_, err := m.doHeartbeat(reqCtx, sentAt)
	cancel()
	if err != nil {
		if errors.Is(err, registry.ErrUnknownSession) {
			m.handleSessionLoss(ctx)
			return
		}
		m.handlePushFailure(ctx, err)
		return
	}
	m.recordRTT(m.clock.Now().Sub(sentAt))
	m.scheduleHeartbeat()
}

func (m *Manager) handleHeartbeatAck(p gateway.HeartbeatAckPayload) {
	if m.pendingHeartbeat.IsZero() || !p.SentAt.Equal(m.pendingHeartbeat) {
		return
	}
	m.stopTimer(&m.heartbeatDeadline)
	rtt := m.clock.Now().Sub(m.pendingHeartbeat)
	m.pendingHeartbeat = time.Time{}
	m.recordRTT(rtt)
	m.scheduleHeartbeat()
}

// recordRTT classifies the sample into a quality tier, adjusting the
// heartbeat cadence and the Degraded sub-state.
func (m *Manager) recordRTT(rtt time.Duration) {
	tier := ClassifyLatency(rtt)
	if tier != m.quality {
		m.quality = tier
		m.syncExternal()
		m.notify(Notification{Type: NotificationQuality, Quality: tier})
		log.Info().
			Dur("rtt", rtt).
			Str("quality", tier.String()).
			Msg("connection quality changed")
	}

	if m.status == StatusConnected && tier.Degraded() {
		m.setStatus(StatusDegraded)
	} else if m.status == StatusDegraded && !tier.Degraded() {
		m.setStatus(StatusConnected)
	}
}

func (m *Manager) scheduleHeartbeat() {
	interval := time.Duration(float64(m.cfg.HeartbeatInterval) * m.quality.HeartbeatScale())
	m.stopTimer(&m.heartbeatTimer)
	m.heartbeatTimer = m.clock.NewTimer(interval)
}

// resync replaces local state wholesale with the authoritative snapshot.
// Missed broadcasts are never replayed; this is the only recovery path.
func (m *Manager) resync(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	snapshot, err := m.doFetchState(reqCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("resync fetch failed")
		return
	}
	m.applySnapshot(snapshot)
}

func (m *Manager) applySnapshot(snapshot gateway.StateResponse) {
	changed := m.resolver.Resync(store.SelectionState{
		ItemID:          snapshot.ItemID,
		Version:         snapshot.Version,
		UpdatedAt:       snapshot.UpdatedAt,
		OriginSessionID: snapshot.OriginSessionID,
	})
	m.sessionCount = snapshot.SessionCount
	m.syncExternal()

	if changed {
		m.notify(Notification{
			Type:          NotificationState,
			State:         m.resolver.State(),
			DisplayedItem: m.resolver.DisplayedItem(),
		})
	}
}

func (m *Manager) handlePollState(snapshot gateway.StateResponse) {
	m.applySnapshot(snapshot)
}

// startPolling launches the polling fallback if it is not already running.
func (m *Manager) startPolling(ctx context.Context) {
	if m.poller != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel

	// Each poller instance owns its breaker: it lives and dies with the
	// poller goroutine, so a lingering fetch from a cancelled poller can
	// never race a successor's counters.
	breaker := NewBreaker(m.cfg.Breaker, m.clock)
	m.poller = NewPoller(
		m.cfg.Poll,
		m.clock,
		func(fetchCtx context.Context) (gateway.StateResponse, error) {
			return m.pollFetch(fetchCtx, breaker)
		},
		func(snapshot gateway.StateResponse) {
			select {
			case m.pollStates <- snapshot:
			default:
			}
		},
		func(remaining int) {
			m.notify(Notification{Type: NotificationPollCountdown, Countdown: remaining})
		},
	)
	go m.poller.Run(pollCtx)
}

func (m *Manager) stopPolling() {
	if m.poller == nil {
		return
	}
	m.pollCancel()
	m.poller = nil
	m.pollCancel = nil
}

// pollFetch is the poller's fetch function. It runs on the poller
// goroutine and consults the polling channel's own breaker.
func (m *Manager) pollFetch(ctx context.Context, breaker *Breaker) (gateway.StateResponse, error) {
	if !breaker.Allow() {
		return gateway.StateResponse{}, &TransportError{Op: "poll", Err: errors.New("poll circuit open")}
	}
	snapshot, err := m.doFetchState(ctx)
	if err != nil {
		breaker.Failure()
		return gateway.StateResponse{}, err
	}
	breaker.Success()
	return snapshot, nil
}

// handleVisibility pauses heartbeats and reconnection while the host is
// hidden, and re-verifies connectivity when it returns.
func (m *Manager) handleVisibility(ctx context.Context, visible bool) {
	if visible == m.visible {
		return
	}
	m.visible = visible

	if !visible {
		log.Debug().Msg("host hidden, pausing probes and reconnects")
		m.stopTimer(&m.connectTimer)
		m.stopTimer(&m.heartbeatTimer)
		m.stopTimer(&m.heartbeatDeadline)
		m.pendingHeartbeat = time.Time{}
		if m.poller != nil {
			m.poller.SetPaused(true)
		}
		return
	}

	log.Debug().Msg("host visible, re-verifying connectivity")
	if m.poller != nil {
		m.poller.SetPaused(false)
	}
	if m.status.PushConnected() {
		m.resync(ctx)
		m.sendHeartbeat(ctx)
	} else {
		m.attemptConnect(ctx)
	}
}

// handleOnline pauses everything while the network is unavailable and
// reconnects immediately when it returns.
func (m *Manager) handleOnline(ctx context.Context, online bool) {
	if online == m.online {
		return
	}
	m.online = online

	if !online {
		log.Info().Msg("network unavailable, pausing reconnection")
		m.closePush()
		m.stopTimer(&m.connectTimer)
		m.stopTimer(&m.cooldownTimer)
		m.stopTimer(&m.heartbeatTimer)
		m.stopTimer(&m.heartbeatDeadline)
		m.pendingHeartbeat = time.Time{}
		if m.poller != nil {
			m.poller.SetPaused(true)
		}
		m.setStatus(StatusDisconnected)
		return
	}

	log.Info().Msg("network restored, reconnecting")
	if m.poller != nil {
		m.poller.SetPaused(false)
	}
	m.backoff.Reset()
	m.attemptConnect(ctx)
}

func (m *Manager) closePush() {
	if m.push != nil {
		m.push.Close()
		m.push = nil
		m.pushWS = nil
	}
	m.gen++
}

func (m *Manager) setStatus(status Status) {
	if status == m.status {
		return
	}
	log.Info().
		Str("from", m.status.String()).
		Str("to", status.String()).
		Msg("connection status changed")
	m.status = status
	m.syncExternal()
	m.notify(Notification{Type: NotificationStatus, Status: status})
}

func (m *Manager) notify(n Notification) {
	select {
	case m.notifications <- n:
	default:
		log.Warn().Str("type", string(n.Type)).Msg("notification buffer full, dropping")
	}
}

func (m *Manager) syncExternal() {
	m.extMu.Lock()
	m.ext = State{
		Status:        m.status,
		Quality:       m.quality,
		Selection:     m.resolver.State(),
		DisplayedItem: m.resolver.DisplayedItem(),
		SessionID:     m.sessionID,
		SessionCount:  m.sessionCount,
	}
	m.extMu.Unlock()
}

// teardown cancels every owned timer and leaves the session. Runs exactly
// once, on loop exit.
func (m *Manager) teardown() {
	m.stopTimer(&m.connectTimer)
	m.stopTimer(&m.cooldownTimer)
	m.stopTimer(&m.heartbeatTimer)
	m.stopTimer(&m.heartbeatDeadline)
	m.stopTimer(&m.graceTimer)
	m.stopPolling()

	if m.sessionID != "" {
		leaveCtx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
		if err := m.doLeave(leaveCtx); err != nil {
			log.Debug().Err(err).Msg("leave on shutdown failed")
		}
		cancel()
	}

	m.closePush()
	m.status = StatusDisconnected
	m.syncExternal()
	close(m.stopped)
}

func (m *Manager) stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
