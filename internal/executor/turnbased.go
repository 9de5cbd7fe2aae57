package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/voicecheck/pkg/transport"
)

const (
	// maxEmptyReplies consecutive empty replies end the session as
	// unresponsive.
	maxEmptyReplies = 3

	// maxSendFailures consecutive failed sends end the session with a
	// transport error.
	maxSendFailures = 2
)

// runTurns drives a pull-model conversation: every caller utterance is one
// request whose response is the agent's complete reply.
func (s *session) runTurns(ctx context.Context, conn transport.TurnConn) {
	s.to(StateAwaitingGreeting)

	greeting, err := s.greeting(ctx, conn)
	switch {
	case ctx.Err() != nil:
		s.closeFor(ctx)
	case err != nil:
		s.close(ReasonTransportError, fmt.Sprintf("greeting: %v", err))
	case greeting != "":
		s.to(StateAgentTurn)
		s.recordAgent(ctx, greeting)
	}

	var empties, failures int
	for !s.complete() {
		if ctx.Err() != nil {
			s.closeFor(ctx)
			break
		}
		s.to(StateCallerTurn)
		u := s.next(ctx)
		if u == nil {
			break
		}

		reply, silent, err := s.exchange(ctx, conn, u.Text)
		switch {
		case ctx.Err() != nil:
			s.closeFor(ctx)
			continue
		case silent:
			s.recordCaller(ctx, u)
			s.closeSilent()
			continue
		case err != nil:
			failures++
			s.log.Warn("executor: send failed", "attempt", failures, "err", err)
			if failures >= maxSendFailures {
				s.close(ReasonTransportError, err.Error())
			}
			continue
		}
		failures = 0
		s.recordCaller(ctx, u)
		s.to(StateAgentTurn)

		text := strings.TrimSpace(reply.Text)
		if text == "" {
			empties++
			s.emptyOnce.Do(func() {
				s.log.Info("executor: agent returned an empty reply, continuing")
			})
			if empties >= maxEmptyReplies {
				s.close(ReasonNoResponse, fmt.Sprintf("%d empty replies in a row", empties))
				continue
			}
		} else {
			empties = 0
			s.recordAgent(ctx, text)
		}

		if s.settle(text) {
			continue
		}
		if reply.Ended {
			s.close(ReasonAgentEnded, "")
		}
	}

	s.finishTurns(ctx, conn)
}

func (s *session) greeting(ctx context.Context, conn transport.TurnConn) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()
	text, err := conn.Greeting(gctx)
	return strings.TrimSpace(text), err
}

// exchange sends text and waits for the reply. silent reports that the
// response watchdog fired before the agent answered.
func (s *session) exchange(ctx context.Context, conn transport.TurnConn, text string) (transport.Reply, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()
	reply, err := conn.Send(sctx, text)
	if err != nil && sctx.Err() != nil && ctx.Err() == nil {
		return transport.Reply{}, true, err
	}
	return reply, false, err
}

// finishTurns says goodbye within the close grace and closes conn.
func (s *session) finishTurns(ctx context.Context, conn transport.TurnConn) {
	if u, ok := s.farewell(); ok {
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CloseGrace)
		reply, err := conn.Send(gctx, u.Text)
		cancel()
		if err != nil {
			s.log.Debug("executor: goodbye not delivered", "err", err)
		} else {
			s.recordCaller(ctx, u)
			if text := strings.TrimSpace(reply.Text); text != "" && s.roomForAgent() {
				s.recordAgent(ctx, text)
			}
		}
	}
	if err := conn.Close(); err != nil {
		s.log.Debug("executor: close connection", "err", err)
	}
	s.to(StateTerminated)
}
