package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Close reasons recorded when a session ends.
const (
	CloseReasonDisconnect  = "disconnect"
	CloseReasonIdleTimeout = "idle_timeout"
)

// Session is one voice conversation. Its context is canceled when the client
// disconnects or when no activity is seen for the idle timeout, whichever
// comes first; everything downstream of the session (tool calls, streaming)
// hangs off that context.
type Session struct {
	ID          string
	EquipmentID string
	TenantID    string

	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	idle    time.Duration
	logger  *zap.Logger
	closeFn func(reason string)

	mu     sync.Mutex
	closed bool
	reason string
}

// NewSession starts a session with the given idle timeout. onClose, if
// non-nil, runs exactly once with the close reason.
func NewSession(parent context.Context, id, equipmentID, tenantID string, idleTimeout time.Duration, logger *zap.Logger, onClose func(reason string)) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:          id,
		EquipmentID: equipmentID,
		TenantID:    tenantID,
		ctx:         ctx,
		cancel:      cancel,
		idle:        idleTimeout,
		logger:      logger,
		closeFn:     onClose,
	}
	s.timer = time.AfterFunc(idleTimeout, func() {
		s.close(CloseReasonIdleTimeout)
	})
	return s
}

// Context returns the session context.
func (s *Session) Context() context.Context { return s.ctx }

// Touch resets the idle timer. Called on every client or agent activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timer.Reset(s.idle)
}

// Close ends the session because the client disconnected.
func (s *Session) Close() {
	s.close(CloseReasonDisconnect)
}

// Reason returns the close reason, or empty while the session is live.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reason = reason
	s.timer.Stop()
	fn := s.closeFn
	s.mu.Unlock()

	s.cancel()
	if s.logger != nil {
		s.logger.Info("session closed",
			zap.String("session_id", s.ID),
			zap.String("reason", reason))
	}
	if fn != nil {
		fn(reason)
	}
}
