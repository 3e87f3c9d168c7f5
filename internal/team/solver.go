package team

import (
	"context"
	"errors"
	"math/big"
	"time"

	"labyrinth.ai/internal/protocol"
)

type SolverConfig struct {
	MaxAttempts     int
	ResponseTimeout time.Duration
	SecretGrace     time.Duration
}

func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MaxAttempts:     3,
		ResponseTimeout: 3 * time.Second,
		SecretGrace:     300 * time.Millisecond,
	}
}

// Exchange is the agent connection as seen by the solver.
type Exchange interface {
	SendAnswer(ctx context.Context, answer string) error
	// Receive returns the next message, or ctx.Err() when ctx expires first.
	Receive(ctx context.Context) (protocol.Message, error)
}

// Outcome describes one challenge instance.
type Outcome struct {
	Answer   string
	Attempts int
	Solved   bool
	// Radar is the radar message that confirmed the answer.
	Radar *protocol.Message
	// Deferred holds messages the solver did not consume, in arrival order.
	Deferred []protocol.Message
}

// Solver answers SecretSumModulo challenges from the team secrets.
type Solver struct {
	cfg     SolverConfig
	secrets *Secrets
}

func NewSolver(cfg SolverConfig, secrets *Secrets) *Solver {
	def := DefaultSolverConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.SecretGrace < 0 {
		cfg.SecretGrace = 0
	}
	return &Solver{cfg: cfg, secrets: secrets}
}

// Solve runs up to MaxAttempts answers for one challenge. agent names the secret owner for
// Secret hints that arrive while the challenge is pending.
func (s *Solver) Solve(ctx context.Context, agent string, modulo *big.Int, ex Exchange) (Outcome, error) {
	var out Outcome

	if s.cfg.SecretGrace > 0 {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.SecretGrace)
		err := s.drainSecrets(gctx, agent, ex, &out)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}

	for out.Attempts < s.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := s.secrets.SumModulo(modulo)
		if err != nil {
			return out, err
		}
		out.Answer = sum.String()
		out.Attempts++
		log.Infof("%s challenge attempt %d/%d answer=%s (secrets=%d)", agent, out.Attempts, s.cfg.MaxAttempts, out.Answer, s.secrets.Len())
		if err := ex.SendAnswer(ctx, out.Answer); err != nil {
			return out, err
		}

		done, err := s.await(ctx, agent, ex, &out)
		if err != nil {
			return out, err
		}
		if done {
			return out, nil
		}
	}
	log.Warningf("%s challenge unsolved after %d attempts", agent, out.Attempts)
	return out, nil
}

func (s *Solver) drainSecrets(ctx context.Context, agent string, ex Exchange, out *Outcome) error {
	for {
		m, err := ex.Receive(ctx)
		if err != nil {
			return err
		}
		if !s.absorbSecret(agent, m) {
			out.Deferred = append(out.Deferred, m)
		}
	}
}

// await reports done when the challenge is over, either solved or abandoned by the server.
func (s *Solver) await(ctx context.Context, agent string, ex Exchange, out *Outcome) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()
	for {
		m, err := ex.Receive(wctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				log.Warningf("%s challenge answer %s timed out", agent, out.Answer)
				return false, nil
			}
			return false, err
		}
		switch {
		case m.Type == protocol.TypeRadarView:
			out.Solved = true
			out.Radar = &m
			return true, nil
		case m.Type == protocol.TypeActionError && m.ActionError == protocol.ErrInvalidChallengeSolution:
			log.Infof("%s challenge answer %s rejected", agent, out.Answer)
			return false, nil
		case m.Type == protocol.TypeActionError && m.ActionError == protocol.ErrNoRunningChallenge:
			log.Infof("%s no running challenge", agent)
			return true, nil
		case s.absorbSecret(agent, m):
		default:
			out.Deferred = append(out.Deferred, m)
		}
	}
}

func (s *Solver) absorbSecret(agent string, m protocol.Message) bool {
	if m.Type != protocol.TypeHint || m.Hint == nil || m.Hint.Kind != protocol.HintSecret {
		return false
	}
	s.secrets.Update(agent, m.Hint.Secret)
	log.Debugf("%s secret updated during challenge", agent)
	return true
}
