// Package webhook is the ingress pipeline: verify, rate-limit, normalize,
// resolve, write, and on failure capture into the dead-letter queue. The
// handler is transport-light; the HTTP server adapts requests into it.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/coinhaven/depositd/core"
	"github.com/coinhaven/depositd/deadletter"
	"github.com/coinhaven/depositd/ledger"
	"github.com/coinhaven/depositd/normalize"
	"github.com/coinhaven/depositd/ratelimit"
	"github.com/coinhaven/depositd/resolve"
)

// Request is the transport-independent shape of an inbound webhook call.
type Request struct {
	Headers    map[string]string
	Body       []byte
	RemoteAddr string
	RequestID  string
}

type Response struct {
	Status     int
	Body       map[string]any
	RetryAfter time.Duration
}

type envelope struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	SubscriptionType string         `json:"subscriptionType"`
	Data             map[string]any `json:"data"`
}

func (e envelope) eventType() string {
	if strings.TrimSpace(e.Type) != "" {
		return e.Type
	}
	return e.SubscriptionType
}

type Pipeline struct {
	verifier SignatureVerifier
	limiter  ratelimit.Limiter
	hasher   *ratelimit.IdentityHasher
	resolver *resolve.Resolver
	writer   *ledger.Writer
	queue    *deadletter.Queue
	counters *Counters
	logger   core.Logger
	auditLog bool
}

type PipelineConfig struct {
	Secret      string
	IdentityKey string
	AuditLog    bool
}

func NewPipeline(
	cfg PipelineConfig,
	limiter ratelimit.Limiter,
	resolver *resolve.Resolver,
	writer *ledger.Writer,
	queue *deadletter.Queue,
	logger core.Logger,
) (*Pipeline, error) {
	if resolver == nil {
		return nil, fmt.Errorf("webhook: resolver is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("webhook: ledger writer is required")
	}
	return &Pipeline{
		verifier: SignatureVerifier{Secret: cfg.Secret},
		limiter:  limiter,
		hasher:   ratelimit.NewIdentityHasher(cfg.IdentityKey),
		resolver: resolver,
		writer:   writer,
		queue:    queue,
		counters: &Counters{},
		logger:   glog.Ensure(logger),
		auditLog: cfg.AuditLog,
	}, nil
}

// AttachQueue wires the dead-letter queue after construction. The queue
// needs the pipeline as its replayer, so the two are built in sequence.
func (p *Pipeline) AttachQueue(queue *deadletter.Queue) {
	if p == nil {
		return
	}
	p.queue = queue
}

func (p *Pipeline) Counters() *Counters {
	if p == nil {
		return nil
	}
	return p.counters
}

// Handle runs one inbound request through the full pipeline. Failures past
// admission are captured into the dead-letter queue with the original raw
// payload; the 500 response tells the sender recovery is now ours.
func (p *Pipeline) Handle(ctx context.Context, req Request) Response {
	correlationID := strings.TrimSpace(req.RequestID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := p.logger.WithContext(ctx)

	if err := p.verifier.Verify(req.Headers, req.Body); err != nil {
		p.counters.rejected.Add(1)
		log.Warn("rejected webhook signature",
			"correlation_id", correlationID,
			"remote_addr", req.RemoteAddr,
			"error", err.Error(),
		)
		return failureResponse(err, "invalid signature", correlationID, 0)
	}

	if denied, retryAfter := p.admissionDenied(ctx, req, correlationID); denied {
		return Response{
			Status: http.StatusTooManyRequests,
			Body: map[string]any{
				"error":         "rate limit exceeded",
				"code":          core.ErrorCodeRateLimited,
				"correlationId": correlationID,
			},
			RetryAfter: retryAfter,
		}
	}

	var payload envelope
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		parseErr := fmt.Errorf("webhook: malformed payload: %w", err)
		p.capture(ctx, correlationID, correlationID, req.Body, parseErr)
		log.Warn("failed to parse webhook payload",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		return failureResponse(parseErr, "processing failed", correlationID, http.StatusInternalServerError)
	}

	processed, err := p.dispatch(ctx, payload, req.Body, correlationID)
	if err != nil {
		p.capture(ctx, webhookID(payload, correlationID), correlationID, req.Body, err)
		log.Error("webhook processing failed",
			"correlation_id", correlationID,
			"event_type", payload.eventType(),
			"error", err.Error(),
		)
		return failureResponse(err, "processing failed", correlationID, http.StatusInternalServerError)
	}

	return Response{
		Status: http.StatusOK,
		Body: map[string]any{
			"success":       true,
			"processed":     processed,
			"correlationId": correlationID,
		},
	}
}

// Replay re-runs the processing stages for a captured payload. Signature
// and admission checks are skipped; they were settled when the event first
// arrived.
func (p *Pipeline) Replay(ctx context.Context, payload []byte) error {
	var parsed envelope
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return fmt.Errorf("webhook: malformed payload: %w", err)
	}
	_, err := p.dispatch(ctx, parsed, payload, "replay-"+uuid.NewString())
	return err
}

func (p *Pipeline) admissionDenied(ctx context.Context, req Request, correlationID string) (bool, time.Duration) {
	if p.limiter == nil {
		return false, 0
	}
	clientIP := ratelimit.ClientIP(headerValue(req.Headers, "x-forwarded-for"), req.RemoteAddr)
	decision, err := p.limiter.Allow(ctx, p.hasher.Hash(clientIP))
	if err != nil {
		// Infrastructure failure fails open; quota rejections never
		// surface as errors.
		p.logger.WithContext(ctx).Warn("rate limiter unavailable, admitting request",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		return false, 0
	}
	if decision.Allowed {
		return false, 0
	}
	p.counters.rateLimited.Add(1)
	if p.auditLog {
		p.logger.WithContext(ctx).Warn("rate limit rejection",
			"correlation_id", correlationID,
			"retry_after", decision.RetryAfter.String(),
		)
	}
	return true, decision.RetryAfter
}

func (p *Pipeline) dispatch(ctx context.Context, payload envelope, raw []byte, correlationID string) (int, error) {
	eventType := strings.ToUpper(strings.TrimSpace(payload.eventType()))
	switch {
	case strings.Contains(eventType, "INCOMING") || strings.Contains(eventType, "DEPOSIT"):
		if err := p.processIncoming(ctx, payload, raw, correlationID); err != nil {
			return 0, err
		}
		return 1, nil
	case strings.Contains(eventType, "OUTGOING"):
		p.counters.outgoing.Add(1)
		return 0, nil
	case strings.Contains(eventType, "FAILED"):
		p.counters.failedTx.Add(1)
		return 0, nil
	default:
		p.logger.WithContext(ctx).Debug("ignoring unhandled event type",
			"correlation_id", correlationID,
			"event_type", payload.eventType(),
		)
		return 0, nil
	}
}

func (p *Pipeline) processIncoming(ctx context.Context, payload envelope, raw []byte, correlationID string) error {
	p.counters.incoming.Add(1)

	event, err := normalize.Event(payload.eventType(), payload.Data, raw)
	if err != nil {
		return err
	}
	resolved, err := p.resolver.Resolve(ctx, event)
	if err != nil {
		return err
	}
	if err := p.writer.Process(ctx, event, resolved); err != nil {
		return err
	}

	p.counters.processed.Add(1)
	if p.auditLog {
		p.logger.WithContext(ctx).Info("deposit event processed",
			"correlation_id", correlationID,
			"user_id", resolved.UserID,
			"transaction_hash", event.TransactionHash,
			"amount", event.Amount.String(),
		)
	}
	return nil
}

// capture persists the original raw payload, never a re-serialization.
func (p *Pipeline) capture(ctx context.Context, id string, correlationID string, payload []byte, cause error) {
	if p.queue == nil {
		return
	}
	if _, err := p.queue.Capture(ctx, id, payload, cause); err != nil {
		// Last resort: the event exists nowhere but this log line.
		p.logger.WithContext(ctx).Error("dead letter capture failed, event may be lost",
			"correlation_id", correlationID,
			"payload", string(payload),
			"capture_error", err.Error(),
			"cause", cause.Error(),
		)
		return
	}
	p.counters.deadLetters.Add(1)
}

func webhookID(payload envelope, fallback string) string {
	if id := strings.TrimSpace(payload.ID); id != "" {
		return id
	}
	if payload.Data != nil {
		for _, key := range []string{"webhookId", "subscriptionId"} {
			if value, ok := payload.Data[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return fallback
}

// failureResponse derives the transport envelope from the error taxonomy.
// Admission failures keep their mapped status; forceStatus pins processing
// failures to 500 because the dead-letter queue owns recovery, while the
// mapped text code still tells the sender what class of failure it was.
func failureResponse(err error, message string, correlationID string, forceStatus int) Response {
	mapped := core.PipelineErrorMapper(err)
	status := mapped.Code
	if forceStatus != 0 {
		status = forceStatus
	}
	return Response{
		Status: status,
		Body: map[string]any{
			"error":         message,
			"code":          mapped.TextCode,
			"correlationId": correlationID,
		},
	}
}

var _ deadletter.Replayer = (*Pipeline)(nil)
