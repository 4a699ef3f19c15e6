// Package relay is the matchmaking and relay core. A Service owns all of the
// in-memory state — connection registry, matchmaking queue, session table,
// transcript buffers, grace timers — and implements every operation the wire
// protocol exposes. State is constructor-injected per instance, never
// process-global, so tests run many relays side by side.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pairline/relay/internal/ban"
	"github.com/pairline/relay/internal/chat"
	"github.com/pairline/relay/internal/grace"
	"github.com/pairline/relay/internal/match"
	"github.com/pairline/relay/internal/messaging"
	"github.com/pairline/relay/internal/metrics"
	"github.com/pairline/relay/internal/protocol"
	"github.com/pairline/relay/internal/ratelimit"
	"github.com/pairline/relay/internal/registry"
	"github.com/pairline/relay/internal/report"
	"github.com/pairline/relay/internal/session"
)

// Session end reasons carried in session-ended and partner-disconnected
// events.
const (
	ReasonEnded        = "ended"
	ReasonSkipped      = "skipped"
	ReasonReported     = "reported"
	ReasonModeration   = "moderation"
	ReasonDisconnected = "disconnected after grace period"
)

// Config holds the relay's tunables.
type Config struct {
	// GracePeriod is how long a disconnected user's sessions survive before
	// teardown, tolerating transient reconnects.
	GracePeriod time.Duration

	// TranscriptRetention is how long a session's transcript outlives the
	// session, so a trailing report can still capture context.
	TranscriptRetention time.Duration

	// VideoTimerSeconds is the optional countdown attached to video matches.
	// Zero means untimed.
	VideoTimerSeconds int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod:         60 * time.Second,
		TranscriptRetention: 60 * time.Second,
	}
}

// Service is one relay instance. Optional collaborators (bans, limiter,
// events) may be nil; every code path degrades to in-memory behavior.
type Service struct {
	cfg Config

	registry    *registry.Registry
	queue       *match.Queue
	sessions    *session.Table
	transcripts *chat.TranscriptBuffer
	timers      *grace.Supervisor
	intake      *report.Intake

	bans    *ban.Store         // nil when Redis is not configured
	limiter *ratelimit.Limiter // nil-safe
	events  *messaging.Client  // nil-safe

	profileMu sync.RWMutex
	profiles  map[string]protocol.Profile // userID -> last-announced profile
}

// NewService creates a relay with fresh, instance-scoped state.
func NewService(cfg Config, intake *report.Intake, bans *ban.Store, limiter *ratelimit.Limiter, events *messaging.Client) *Service {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 60 * time.Second
	}
	if cfg.TranscriptRetention == 0 {
		cfg.TranscriptRetention = 60 * time.Second
	}
	return &Service{
		cfg:         cfg,
		registry:    registry.New(),
		queue:       match.NewQueue(),
		sessions:    session.NewTable(),
		transcripts: chat.NewTranscriptBuffer(),
		timers:      grace.NewSupervisor(),
		intake:      intake,
		bans:        bans,
		limiter:     limiter,
		events:      events,
		profiles:    make(map[string]protocol.Profile),
	}
}

// Registry exposes the connection registry, used by cmd wiring and tests.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Sessions exposes the session table for tests and the moderation path.
func (s *Service) Sessions() *session.Table { return s.sessions }

// Transcripts exposes the transcript buffers for tests.
func (s *Service) Transcripts() *chat.TranscriptBuffer { return s.transcripts }

// Reports exposes the report intake.
func (s *Service) Reports() *report.Intake { return s.intake }

// Shutdown cancels all pending timers.
func (s *Service) Shutdown() {
	s.timers.StopAll()
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// HandleConnect records a user's live transport. A reconnect inside the grace
// window cancels the pending teardown outright; the timer callback re-checks
// the registry anyway, so even a lost cancel cannot kill a healthy session.
func (s *Service) HandleConnect(userID string, t registry.Transport) {
	if s.timers.Cancel(graceKey(userID)) {
		metrics.PendingGraceTimers.Dec()
		log.Printf("relay: user=%s reconnected within grace window", userID)
	}

	s.registry.Register(userID, t)
	metrics.Connections.Set(float64(s.registry.Count()))
	s.broadcastActiveUsers()
}

// HandleDisconnect reacts to transport loss. The registry and queue entries
// go immediately; session teardown waits out the grace window. The transport
// is compared against the registry so the delayed close of a replaced
// connection never tears down its successor's state.
func (s *Service) HandleDisconnect(userID string, t registry.Transport) {
	if current := s.registry.Lookup(userID); current == nil || current != t {
		return // already replaced by a reconnect, or never registered
	}

	s.registry.Unregister(userID)
	s.queue.Leave(userID)
	metrics.Connections.Set(float64(s.registry.Count()))
	metrics.QueueSize.Set(float64(s.queue.Len()))
	s.broadcastActiveUsers()

	if len(s.sessions.SessionsOf(userID)) == 0 {
		s.dropProfile(userID)
		return
	}

	metrics.PendingGraceTimers.Inc()
	s.timers.Schedule(graceKey(userID), s.cfg.GracePeriod, func() {
		metrics.PendingGraceTimers.Dec()
		s.onGraceExpired(userID)
	})
	log.Printf("relay: user=%s disconnected, grace window %s started", userID, s.cfg.GracePeriod)
}

// onGraceExpired commits to teardown once the grace window elapses. Live
// state is re-checked here rather than trusting the schedule: a reconnect
// that raced the timer leaves the sessions untouched.
func (s *Service) onGraceExpired(userID string) {
	if s.registry.Connected(userID) {
		return
	}

	for _, sess := range s.sessions.SessionsOf(userID) {
		partner := sess.Partner(userID)
		s.removeSession(sess, ReasonDisconnected)

		if t := s.registry.Lookup(partner); t != nil {
			s.send(t, protocol.TypePartnerDisconnect, protocol.PartnerDisconnectedMsg{
				SessionID: sess.ID,
				Reason:    ReasonDisconnected,
			})
		}
		log.Printf("relay: session=%s torn down, user=%s never returned", sess.ID, userID)
	}
	s.dropProfile(userID)
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func graceKey(userID string) string { return "grace:" + userID }

func transcriptKey(sessionID string) string { return "transcript:" + sessionID }

// send marshals and writes one event to a transport. Write failures are
// logged only; a dying socket is the epoll loop's problem.
func (s *Service) send(t registry.Transport, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("relay: build %s event: %v", msgType, err)
		return
	}
	if err := t.WriteMessage(data); err != nil {
		log.Printf("relay: send %s event: %v", msgType, err)
	}
}

// sendError reports a malformed or rejected request to the sender only.
func (s *Service) sendError(t registry.Transport, code, message string) {
	s.send(t, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// broadcastActiveUsers pushes the live connection count to every client.
func (s *Service) broadcastActiveUsers() {
	count := s.registry.Count()
	data, err := protocol.NewServerMessage(protocol.TypeActiveUsersCount, protocol.ActiveUsersCountMsg{Count: count})
	if err != nil {
		return
	}
	s.registry.Each(func(_ string, t registry.Transport) bool {
		_ = t.WriteMessage(data)
		return true
	})
}

// vocabulary selects the outbound event names for a session kind.
func vocabulary(kind session.Kind) protocol.EventNames {
	if kind == session.KindInstantChat {
		return protocol.InstantChatEvents
	}
	return protocol.VideoEvents
}

// removeSession deletes a session from the table, updates metrics, announces
// the teardown to external collaborators, and schedules the transcript for
// eviction after the retention window.
func (s *Service) removeSession(sess *session.Session, reason string) {
	if ended := s.sessions.End(sess.ID); ended == nil {
		return // already gone; racing teardown paths are no-ops
	}

	metrics.ActiveSessions.WithLabelValues(string(sess.Kind)).Dec()
	metrics.SessionsEnded.WithLabelValues(reason).Inc()

	s.timers.Schedule(transcriptKey(sess.ID), s.cfg.TranscriptRetention, func() {
		s.transcripts.Remove(sess.ID)
	})

	if s.events != nil {
		payload, _ := json.Marshal(map[string]string{
			"session_id": sess.ID,
			"user_a":     sess.UserA,
			"user_b":     sess.UserB,
			"kind":       string(sess.Kind),
			"reason":     reason,
		})
		if err := s.events.PublishSessionEnded(payload); err != nil {
			log.Printf("relay: publish session ended: %v", err)
		}
	}
}

// endSessionNotify removes the session and tells both connected participants,
// using the session kind's wire vocabulary.
func (s *Service) endSessionNotify(sess *session.Session, reason string) {
	s.removeSession(sess, reason)

	vocab := vocabulary(sess.Kind)
	for _, userID := range []string{sess.UserA, sess.UserB} {
		if t := s.registry.Lookup(userID); t != nil {
			s.send(t, vocab.SessionEnded, protocol.SessionEndedMsg{
				SessionID: sess.ID,
				Reason:    reason,
			})
		}
	}
}

// profile returns the last-announced profile for a user.
func (s *Service) profile(userID string) protocol.Profile {
	s.profileMu.RLock()
	p := s.profiles[userID]
	s.profileMu.RUnlock()
	return p
}

func (s *Service) setProfile(userID string, p protocol.Profile) {
	s.profileMu.Lock()
	s.profiles[userID] = p
	s.profileMu.Unlock()
}

func (s *Service) dropProfile(userID string) {
	s.profileMu.Lock()
	delete(s.profiles, userID)
	s.profileMu.Unlock()
}

// checkBanned enforces an active ban, telling the user why. Redis errors fail
// open: an unreachable ban store never blocks matching.
func (s *Service) checkBanned(t registry.Transport, userID string) bool {
	if s.bans == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	banned, remaining, reason, err := s.bans.IsBanned(ctx, userID)
	if err != nil {
		log.Printf("relay: ban check failed for user=%s: %v (failing open)", userID, err)
		return false
	}
	if banned {
		s.send(t, protocol.TypeBanned, protocol.BannedMsg{Duration: remaining, Reason: reason})
		return true
	}
	return false
}

// checkLimit applies a rate limit rule, answering rate_limited on a hit.
func (s *Service) checkLimit(t registry.Transport, userID string, rule ratelimit.Rule) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if s.limiter.Allow(ctx, userID, rule) {
		return false
	}
	s.send(t, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: s.limiter.RetryAfter(ctx, userID, rule),
	})
	return true
}
