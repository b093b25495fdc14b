package payments

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Sandbox payment sources understood by SandboxGateway.
const (
	SandboxSourceDecline = "sandbox-decline"
	SandboxSourceTimeout = "sandbox-timeout"
	SandboxSourceError   = "sandbox-error"
)

// SandboxGateway is an in-process gateway for local runs. It honours
// idempotency keys the way a real processor does: a repeated key returns the
// first result.
type SandboxGateway struct {
	mu      sync.Mutex
	charges map[string]ChargeResult
	refunds map[string]RefundResult
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		charges: make(map[string]ChargeResult),
		refunds: make(map[string]RefundResult),
	}
}

func (g *SandboxGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	g.mu.Lock()
	if prior, ok := g.charges[req.IdempotencyKey]; ok {
		g.mu.Unlock()
		return prior, nil
	}
	g.mu.Unlock()

	source := strings.ToLower(strings.TrimSpace(req.SourceRef))
	var result ChargeResult
	switch {
	case strings.HasPrefix(source, SandboxSourceTimeout):
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	case strings.HasPrefix(source, SandboxSourceError):
		return ChargeResult{}, errors.New("sandbox processor unavailable")
	case strings.HasPrefix(source, SandboxSourceDecline):
		result = ChargeResult{Declined: true, DeclineReason: "CARD_DECLINED"}
	default:
		result = ChargeResult{GatewayRef: "sbx_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.IdempotencyKey)).String()}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[req.IdempotencyKey] = result
	return result, nil
}

func (g *SandboxGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, err
	}
	if strings.TrimSpace(req.GatewayRef) == "" {
		return RefundResult{}, errors.New("gateway reference required for refund")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if prior, ok := g.refunds[req.IdempotencyKey]; ok {
		return prior, nil
	}
	result := RefundResult{GatewayRefundID: "sbx_rf_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.IdempotencyKey)).String()}
	g.refunds[req.IdempotencyKey] = result
	return result, nil
}
