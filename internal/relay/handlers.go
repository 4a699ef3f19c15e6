package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pairline/relay/internal/ban"
	"github.com/pairline/relay/internal/chat"
	"github.com/pairline/relay/internal/match"
	"github.com/pairline/relay/internal/metrics"
	"github.com/pairline/relay/internal/moderation"
	"github.com/pairline/relay/internal/protocol"
	"github.com/pairline/relay/internal/ratelimit"
	"github.com/pairline/relay/internal/registry"
	"github.com/pairline/relay/internal/report"
	"github.com/pairline/relay/internal/session"
)

// ---------------------------------------------------------------------------
// Matchmaking
// ---------------------------------------------------------------------------

// JoinQueue enters a user into the video matchmaking queue and attempts a
// pairing. A user already in a video session is redirected: the match event
// for the existing session is re-sent and no duplicate is created. Re-joining
// while queued is idempotent (the old entry is evicted).
func (s *Service) JoinQueue(t registry.Transport, userID string, m protocol.JoinQueueMsg) {
	if s.checkBanned(t, userID) {
		return
	}
	if s.checkLimit(t, userID, ratelimit.RuleJoin) {
		return
	}

	profile := protocol.Profile{DisplayName: m.DisplayName, Preferences: m.Preferences}
	s.setProfile(userID, profile)

	if existing := s.sessions.FindByKind(userID, session.KindVideo); existing != nil {
		s.resendMatchFound(t, userID, existing)
		return
	}

	s.queue.Enqueue(match.Entry{
		UserID:      userID,
		Transport:   t,
		DisplayName: m.DisplayName,
		Preferences: m.Preferences,
	})
	metrics.QueueSize.Set(float64(s.queue.Len()))

	pair := s.queue.TryMatch()
	metrics.QueueSize.Set(float64(s.queue.Len()))
	if pair == nil {
		s.send(t, protocol.TypeNoMatchFound, protocol.NoMatchFoundMsg{})
		return
	}
	s.completeVideoMatch(pair)
}

// LeaveQueue removes a pending queue entry; leaving when not queued is fine.
func (s *Service) LeaveQueue(t registry.Transport, userID string, _ protocol.LeaveQueueMsg) {
	s.queue.Leave(userID)
	metrics.QueueSize.Set(float64(s.queue.Len()))
}

// completeVideoMatch creates the session for a popped pair and notifies both
// sides. The longer-waiting side is the initiator.
func (s *Service) completeVideoMatch(pair *match.Pair) {
	sess, err := s.sessions.Create(pair.A.UserID, pair.B.UserID, session.KindVideo, s.cfg.VideoTimerSeconds)
	if err != nil {
		// One side raced into another session between enqueue and pop. Put
		// the still-free side back so it keeps waiting.
		log.Printf("relay: video match aborted (%s, %s): %v", pair.A.UserID, pair.B.UserID, err)
		for _, e := range []match.Entry{pair.A, pair.B} {
			if s.sessions.FindByKind(e.UserID, session.KindVideo) == nil {
				s.queue.Enqueue(e)
			}
		}
		metrics.QueueSize.Set(float64(s.queue.Len()))
		return
	}

	metrics.MatchesTotal.WithLabelValues(string(session.KindVideo)).Inc()
	metrics.ActiveSessions.WithLabelValues(string(session.KindVideo)).Inc()
	now := time.Now()
	metrics.MatchWaitTime.Observe(now.Sub(pair.A.JoinedAt).Seconds())
	metrics.MatchWaitTime.Observe(now.Sub(pair.B.JoinedAt).Seconds())

	s.notifyMatch(sess, pair.A.UserID, pair.A.Transport, true)
	s.notifyMatch(sess, pair.B.UserID, pair.B.Transport, false)
	s.publishSessionStarted(sess)

	log.Printf("relay: matched %s (initiator) with %s session=%s kind=%s",
		pair.A.UserID, pair.B.UserID, sess.ID, sess.Kind)
}

// JoinInstantChat pairs the requester with the first eligible live connection
// instead of a waiting queue. Users already in any active session are not
// eligible partners; the registration-order scan keeps the pick deterministic.
// The requester is always the initiator.
func (s *Service) JoinInstantChat(t registry.Transport, userID string, m protocol.JoinInstantChatMsg) {
	if s.checkBanned(t, userID) {
		return
	}
	if s.checkLimit(t, userID, ratelimit.RuleJoin) {
		return
	}

	s.setProfile(userID, protocol.Profile{DisplayName: m.DisplayName})

	if existing := s.sessions.FindByKind(userID, session.KindInstantChat); existing != nil {
		s.resendMatchFound(t, userID, existing)
		return
	}

	partnerID, partnerTransport, found := match.FindInstantPartner(s.registry, userID, func(candidate string) bool {
		return s.sessions.Find(candidate) != nil
	})
	if !found {
		s.send(t, protocol.TypeNoMatchFound, protocol.NoMatchFoundMsg{})
		return
	}

	sess, err := s.sessions.Create(userID, partnerID, session.KindInstantChat, 0)
	if err != nil {
		s.send(t, protocol.TypeNoMatchFound, protocol.NoMatchFoundMsg{})
		return
	}

	metrics.MatchesTotal.WithLabelValues(string(session.KindInstantChat)).Inc()
	metrics.ActiveSessions.WithLabelValues(string(session.KindInstantChat)).Inc()

	s.notifyMatch(sess, userID, t, true)
	s.notifyMatch(sess, partnerID, partnerTransport, false)
	s.publishSessionStarted(sess)

	log.Printf("relay: instant chat matched %s (initiator) with %s session=%s",
		userID, partnerID, sess.ID)
}

// notifyMatch sends the match event for a session to one participant, with
// the partner's profile and the symmetry-breaking initiator flag.
func (s *Service) notifyMatch(sess *session.Session, userID string, t registry.Transport, isInitiator bool) {
	s.send(t, vocabulary(sess.Kind).MatchFound, protocol.MatchFoundMsg{
		SessionID:      sess.ID,
		PartnerID:      sess.Partner(userID),
		IsInitiator:    isInitiator,
		PartnerProfile: s.profile(sess.Partner(userID)),
		TimerSeconds:   sess.TimerSeconds,
	})
}

// resendMatchFound re-emits the match event for an existing session to a user
// who asked to join again while already matched. UserA was the initiator at
// create time, so the flag stays stable across re-sends.
func (s *Service) resendMatchFound(t registry.Transport, userID string, sess *session.Session) {
	s.notifyMatch(sess, userID, t, userID == sess.UserA)
}

func (s *Service) publishSessionStarted(sess *session.Session) {
	if s.events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"session_id": sess.ID,
		"user_a":     sess.UserA,
		"user_b":     sess.UserB,
		"kind":       string(sess.Kind),
	})
	if err := s.events.PublishSessionStarted(payload); err != nil {
		log.Printf("relay: publish session started: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Relaying
// ---------------------------------------------------------------------------

// ChatMessage relays a text message to the session partner. Delivery is
// at-most-once and best-effort: an absent recipient means a silent drop, with
// no queuing, no retry, and no transcript entry.
func (s *Service) ChatMessage(t registry.Transport, userID string, m protocol.ChatMessageMsg) {
	if err := chat.ValidateContent(m.Content); err != nil {
		metrics.MessagesRelayed.WithLabelValues("rejected").Inc()
		s.sendError(t, "invalid_message", err.Error())
		return
	}
	if s.checkLimit(t, userID, ratelimit.RuleMessage) {
		return
	}

	sess := s.resolveSession(userID, m.SessionID, m.To)
	if sess == nil {
		s.sendError(t, "no_session", "not in an active session")
		return
	}

	recipient := s.registry.Lookup(sess.Partner(userID))
	if recipient == nil {
		metrics.MessagesRelayed.WithLabelValues("dropped").Inc()
		return
	}

	msg := chat.Message{
		ID:       uuid.New().String(),
		SenderID: userID,
		Content:  m.Content,
		SentAt:   time.Now().Unix(),
	}
	s.transcripts.Add(sess.ID, msg)

	s.send(recipient, vocabulary(sess.Kind).ChatMessage, protocol.ServerChatMsg{
		ID:        msg.ID,
		SessionID: sess.ID,
		From:      userID,
		Content:   msg.Content,
		SentAt:    msg.SentAt,
	})
	metrics.MessagesRelayed.WithLabelValues("delivered").Inc()
}

// Signal relays a WebRTC signaling payload (offer, answer, ICE candidate) or
// a connection negotiation event to the addressed peer, verbatim and
// unbuffered. Signaling never enters the moderation transcript. An absent
// recipient is a silent drop; clients own the missing-ack case.
func (s *Service) Signal(t registry.Transport, userID string, m protocol.SignalMsg) {
	if m.To == "" {
		s.sendError(t, "missing_recipient", "signal requires a recipient")
		return
	}
	if s.checkLimit(t, userID, ratelimit.RuleSignal) {
		return
	}

	recipient := s.registry.Lookup(m.To)
	if recipient == nil {
		metrics.SignalsRelayed.WithLabelValues("dropped").Inc()
		return
	}

	s.send(recipient, m.Type, protocol.ServerSignalMsg{
		From:    userID,
		Payload: m.Payload,
	})
	metrics.SignalsRelayed.WithLabelValues("delivered").Inc()
}

// ---------------------------------------------------------------------------
// Session teardown
// ---------------------------------------------------------------------------

// EndCall ends the caller's session, addressed by session ID, by partner ID
// (legacy clients), or implicitly by the caller's only active session.
func (s *Service) EndCall(t registry.Transport, userID string, m protocol.EndChatMsg) {
	sess := s.resolveSession(userID, m.SessionID, m.PartnerID)
	if sess == nil {
		s.sendError(t, "no_session", "not in an active session")
		return
	}
	s.endSessionNotify(sess, ReasonEnded)
}

// NextMatch skips the current partner: the session ends with reason skipped
// and the requester immediately re-enters matching for the same kind. The
// session ID is required; a request without one is rejected.
func (s *Service) NextMatch(t registry.Transport, userID string, m protocol.NextMatchMsg) {
	if m.SessionID == "" {
		s.sendError(t, "missing_session_id", "next_match requires a session id")
		return
	}

	sess := s.sessions.Get(m.SessionID)
	if sess == nil || !sess.IsParticipant(userID) {
		s.sendError(t, "invalid_session", "no such session for this user")
		return
	}

	kind := sess.Kind
	s.endSessionNotify(sess, ReasonSkipped)

	profile := s.profile(userID)
	if kind == session.KindVideo {
		s.JoinQueue(t, userID, protocol.JoinQueueMsg{
			DisplayName: profile.DisplayName,
			Preferences: profile.Preferences,
		})
	} else {
		s.JoinInstantChat(t, userID, protocol.JoinInstantChatMsg{
			DisplayName: profile.DisplayName,
		})
	}
}

// resolveSession finds the caller's session by explicit session ID, by the
// partner's user ID in either order, or by the caller's sole membership.
func (s *Service) resolveSession(userID, sessionID, partnerID string) *session.Session {
	if sessionID != "" {
		sess := s.sessions.Get(sessionID)
		if sess != nil && sess.IsParticipant(userID) {
			return sess
		}
		return nil
	}
	if partnerID != "" {
		return s.sessions.FindByParticipants(userID, partnerID)
	}
	return s.sessions.Find(userID)
}

// ---------------------------------------------------------------------------
// Reports and moderation
// ---------------------------------------------------------------------------

// Report accepts an abuse report, snapshots the session transcript, hands the
// report to intake (in-memory always, durable store best-effort), ends the
// session, and feeds the auto-ban counter. The reporter is acknowledged as
// soon as the in-memory record exists, with a flag saying whether durable
// persistence succeeded.
func (s *Service) Report(t registry.Transport, userID string, m protocol.ReportUserMsg) {
	if s.checkLimit(t, userID, ratelimit.RuleReport) {
		return
	}

	sess := s.resolveSession(userID, m.SessionID, m.ReportedUserID)

	var transcript []chat.Message
	if sess != nil {
		transcript = s.transcripts.Get(sess.ID)
	}

	r := &report.Report{
		ReporterID:     userID,
		ReportedUserID: m.ReportedUserID,
		Reason:         m.Reason,
		Description:    m.Description,
		Transcript:     transcript,
	}
	if err := r.Validate(); err != nil {
		s.sendError(t, "invalid_report", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, persisted := s.intake.Submit(ctx, r)

	outcome := "fallback"
	if persisted {
		outcome = "persisted"
	}
	metrics.ReportsTotal.WithLabelValues(outcome).Inc()

	ackType := protocol.TypeReportSubmitted
	if sess != nil {
		ackType = vocabulary(sess.Kind).ReportAck
	}
	s.send(t, ackType, protocol.ReportAckMsg{ReportID: stored.ID, Persisted: persisted})

	if s.events != nil {
		payload, _ := json.Marshal(moderation.ReportEvent{
			ReportID:       stored.ID,
			ReporterID:     stored.ReporterID,
			ReportedUserID: stored.ReportedUserID,
			Reason:         stored.Reason,
			Transcript:     stored.Transcript,
			SubmittedAt:    stored.SubmittedAt.Unix(),
		})
		if err := s.events.PublishReportSubmitted(payload); err != nil {
			log.Printf("relay: publish report submitted: %v", err)
		}
	}

	// Reporting the partner ends the pairing.
	if sess != nil && sess.IsParticipant(m.ReportedUserID) {
		s.endSessionNotify(sess, ReasonReported)
	}

	s.autoBan(m.ReportedUserID)
}

// autoBan feeds the reported user into the rolling offense counter and
// applies the threshold ban. Redis failures degrade to no enforcement.
func (s *Service) autoBan(reportedUserID string) {
	if s.bans == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	banned, duration, err := s.bans.ReportAndCheck(ctx, reportedUserID)
	if err != nil {
		log.Printf("relay: auto-ban check failed for user=%s: %v", reportedUserID, err)
		return
	}
	if !banned {
		return
	}

	log.Printf("relay: user=%s auto-banned for %s after repeated reports", reportedUserID, duration)
	if t := s.registry.Lookup(reportedUserID); t != nil {
		s.send(t, protocol.TypeBanned, protocol.BannedMsg{
			Duration: int(duration.Seconds()),
			Reason:   "multiple_reports",
		})
	}
}

// ApplyModerationAction executes a kick or ban pushed back by the moderation
// sidecar or the admin surface. Unknown verbs are logged and dropped.
func (s *Service) ApplyModerationAction(a moderation.Action) {
	switch a.Action {
	case moderation.ActionKick, moderation.ActionBan:
	default:
		log.Printf("relay: unknown moderation action %q for user=%s", a.Action, a.UserID)
		return
	}

	if a.Action == moderation.ActionBan && s.bans != nil {
		duration := time.Duration(a.Duration) * time.Second
		if duration <= 0 {
			duration = ban.BanFirst
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.bans.Ban(ctx, a.UserID, duration, a.Reason); err != nil {
			log.Printf("relay: moderation ban failed for user=%s: %v", a.UserID, err)
		}
	}

	for _, sess := range s.sessions.SessionsOf(a.UserID) {
		s.endSessionNotify(sess, ReasonModeration)
	}
	s.queue.Leave(a.UserID)
	metrics.QueueSize.Set(float64(s.queue.Len()))

	if t := s.registry.Lookup(a.UserID); t != nil && a.Action == moderation.ActionBan {
		s.send(t, protocol.TypeBanned, protocol.BannedMsg{Duration: a.Duration, Reason: a.Reason})
	}
	log.Printf("relay: moderation action %s applied to user=%s reason=%q", a.Action, a.UserID, a.Reason)
}
