package fileserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mevdschee/sftpjail/internal/handles"
	"github.com/mevdschee/sftpjail/internal/jail"
	"github.com/mevdschee/sftpjail/internal/logger"
	"github.com/mevdschee/sftpjail/internal/protocol"
)

// Session is one client connection's view of the server: its own handle table
// in front of a shared Dispatcher.
type Session struct {
	ID   string
	User string

	dispatcher *Dispatcher
	handles    *handles.Table
	log        *slog.Logger

	closeOnce sync.Once
	released  int
}

// NewSession starts a session for user. Fields such as the client address can
// be attached to the session logger with attrs.
func NewSession(d *Dispatcher, user string, attrs ...any) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:         id,
		User:       user,
		dispatcher: d,
		handles:    handles.NewTable(),
		log:        logger.With(append([]any{logger.KeySessionID, id, logger.KeyUsername, user}, attrs...)...),
	}
	d.metrics.SessionOpened()
	s.log.Info("SFTP session started", "root", d.Root())
	return s
}

// Handle dispatches one request and returns its single response.
func (s *Session) Handle(ctx context.Context, req protocol.Request) protocol.Response {
	start := time.Now()
	resp, cause := s.dispatcher.Dispatch(ctx, s.handles, req)
	elapsed := time.Since(start)

	verb := req.Verb.String()
	if req.Verb == protocol.VerbUnknown && req.Op != "" {
		verb = req.Op
	}
	s.dispatcher.metrics.RecordRequest(verb, resp.StatusLabel(), elapsed)

	attrs := []any{
		logger.KeyRequestID, req.ID,
		logger.KeyProcedure, verb,
		logger.KeyStatus, resp.StatusLabel(),
		logger.KeyDurationMs, float64(elapsed.Microseconds()) / 1000,
	}
	if req.Path != "" {
		attrs = append(attrs, logger.KeyPath, req.Path)
	}
	if req.Handle != "" {
		attrs = append(attrs, logger.KeyHandle, req.Handle)
	}
	if resp.Kind == protocol.KindHandle {
		attrs = append(attrs, logger.KeyHandle, resp.Handle)
	}
	if cause != nil {
		attrs = append(attrs, logger.KeyError, cause)
	}

	switch {
	case errors.Is(cause, jail.ErrEscapesRoot):
		s.log.Warn("Path outside root rejected", attrs...)
	case cause != nil && !resp.Failed():
		s.log.Warn("Handle released with error", attrs...)
	default:
		s.log.Debug("SFTP request", attrs...)
	}
	return resp
}

// OpenHandles returns the number of handles the session currently holds.
func (s *Session) OpenHandles() int {
	return s.handles.Len()
}

// Close releases every handle still open. It is safe to call more than once
// and returns the number of handles released by the first call.
func (s *Session) Close() int {
	s.closeOnce.Do(func() {
		s.released = s.handles.CloseAll()
		s.dispatcher.metrics.SessionClosed(s.released)
		s.log.Info("SFTP session closed", "released_handles", s.released)
	})
	return s.released
}
