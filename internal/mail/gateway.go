package mail

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Transport attempts a single delivery of a message. Implementations return
// nil on success or one of *AuthError, *ConnectError, *ProtocolError.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Outcome classifies the result of a Deliver call.
type Outcome string

const (
	// OutcomeSent means the transport accepted the message.
	OutcomeSent Outcome = "sent"
	// OutcomeBlocked means the guardrails refused the message before any
	// transport attempt.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeFailed means every transport attempt failed.
	OutcomeFailed Outcome = "failed"
)

// DeliveryAttempt records one try at sending, for diagnostics and tests.
type DeliveryAttempt struct {
	Number int           `json:"number"`
	Err    string        `json:"error,omitempty"`
	Wait   time.Duration `json:"wait_before_next,omitempty"`
}

// DeliveryResult is the typed outcome of a Deliver call. Exactly one of the
// three outcomes applies: Sent, Blocked (with the blocking issues), or Failed
// (with the last transport error).
type DeliveryResult struct {
	Outcome        Outcome           `json:"outcome"`
	BlockingIssues []string          `json:"blocking_issues,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Attempts       []DeliveryAttempt `json:"attempts,omitempty"`
	Err            error             `json:"-"`
	Verdict        *Verdict          `json:"verdict,omitempty"`
}

// Gateway wraps a transport with guardrail admission control, bounded retries
// with exponential backoff, and rate-limit accounting on confirmed sends.
type Gateway struct {
	transport   Transport
	guardrails  *Engine
	limiter     *RateLimiter
	from        string
	maxRetries  int
	backoffBase time.Duration
	logger      *log.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a delivery gateway. The limiter must be the same
// instance the engine consults, so that admission checks and send accounting
// agree.
func NewGateway(transport Transport, guardrails *Engine, limiter *RateLimiter, from string, maxRetries int, backoffBase time.Duration) *Gateway {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Gateway{
		transport:   transport,
		guardrails:  guardrails,
		limiter:     limiter,
		from:        from,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		logger:      log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
		sleep:       sleepCtx,
	}
}

// Deliver evaluates the guardrails and, if admitted, attempts the transport
// send with bounded retries. The rate limiter is mutated exactly once, on
// transport success, and never otherwise.
func (g *Gateway) Deliver(ctx context.Context, subject, body, recipient string) DeliveryResult {
	verdict := g.guardrails.Evaluate(subject, body, recipient, "")
	if !verdict.Passed {
		g.logger.Printf("delivery to %s blocked: %v", recipient, verdict.BlockingIssues)
		return DeliveryResult{
			Outcome:        OutcomeBlocked,
			BlockingIssues: verdict.BlockingIssues,
			Warnings:       verdict.Warnings,
			Verdict:        &verdict,
		}
	}

	msg := Message{From: g.from, To: recipient, Subject: subject, Body: body}
	var attempts []DeliveryAttempt
	var lastErr error

	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		// Cancellation is checked before, not during, the atomic send.
		if err := ctx.Err(); err != nil {
			return DeliveryResult{
				Outcome:  OutcomeFailed,
				Warnings: verdict.Warnings,
				Attempts: attempts,
				Err:      err,
				Verdict:  &verdict,
			}
		}

		err := g.transport.Send(ctx, msg)
		if err == nil {
			g.limiter.RecordSend()
			attempts = append(attempts, DeliveryAttempt{Number: attempt})
			g.logger.Printf("sent to %s on attempt %d", recipient, attempt)
			return DeliveryResult{
				Outcome:  OutcomeSent,
				Warnings: verdict.Warnings,
				Attempts: attempts,
				Verdict:  &verdict,
			}
		}

		lastErr = err
		wait := g.backoffBase * (1 << attempt)
		record := DeliveryAttempt{Number: attempt, Err: err.Error()}
		if attempt < g.maxRetries {
			record.Wait = wait
		}
		attempts = append(attempts, record)
		g.logger.Printf("attempt %d/%d to %s failed: %v", attempt, g.maxRetries, recipient, err)

		if attempt < g.maxRetries {
			if err := g.sleep(ctx, wait); err != nil {
				return DeliveryResult{
					Outcome:  OutcomeFailed,
					Warnings: verdict.Warnings,
					Attempts: attempts,
					Err:      err,
					Verdict:  &verdict,
				}
			}
		}
	}

	return DeliveryResult{
		Outcome:  OutcomeFailed,
		Warnings: verdict.Warnings,
		Attempts: attempts,
		Err:      fmt.Errorf("failed to send after %d attempts: %w", g.maxRetries, lastErr),
		Verdict:  &verdict,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
