package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/shopspring/decimal"
)

// Tokens understood by SimulatedGateway.
const (
	Token_Success           = "tok_success"
	Token_Decline           = "tok_decline"
	Token_InsufficientFunds = "tok_insufficient_funds"
	Token_Expired           = "tok_expired"
	Token_Invalid           = "tok_invalid"
	Token_Timeout           = "tok_timeout"
	Token_Unavailable       = "tok_unavailable"
	Token_3DS               = "tok_3ds"
	Token_Hang              = "tok_hang"
	// Token_Flaky fails with a transient error on the first call for each
	// idempotency key and approves afterwards.
	Token_Flaky = "tok_flaky"
)

const (
	Operation_Charge = "charge"
	Operation_Refund = "refund"
	Operation_Status = "status"
)

type simTxn struct {
	resp     *domain.GatewayResponse
	amount   decimal.Decimal
	refunded decimal.Decimal
}

// SimulatedGateway is an in-process provider. Declared outcomes are cached per
// idempotency key the way a real provider dedupes retried requests.
type SimulatedGateway struct {
	mu      *sync.Mutex
	charges map[string]*domain.GatewayResponse
	refunds map[string]*domain.GatewayResponse
	txns    map[string]*simTxn
	flaky   map[string]bool
	calls   map[string]int
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		mu:      new(sync.Mutex),
		charges: make(map[string]*domain.GatewayResponse),
		refunds: make(map[string]*domain.GatewayResponse),
		txns:    make(map[string]*simTxn),
		flaky:   make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// Calls returns how many times op reached the provider.
func (g *SimulatedGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *SimulatedGateway) Charge(ctx context.Context, req *domain.ChargeRequest) (*domain.GatewayResponse, error) {
	g.mu.Lock()
	g.calls[Operation_Charge]++
	if resp, ok := g.charges[req.IdempotencyKey]; ok {
		g.mu.Unlock()
		return copyResponse(resp), nil
	}
	g.mu.Unlock()

	switch req.GatewayToken {
	case Token_Hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case Token_Timeout:
		return nil, pkgerrors.NewGatewayTransientError(&domain.GatewayError{Code: domain.ErrorCode_GatewayTimeout, Message: "provider timed out"})
	case Token_Unavailable:
		return nil, pkgerrors.NewGatewayTransientError(&domain.GatewayError{Code: domain.ErrorCode_GatewayUnavailable, Message: "provider unavailable"})
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.GatewayToken == Token_Flaky && !g.flaky[req.IdempotencyKey] {
		g.flaky[req.IdempotencyKey] = true
		return nil, pkgerrors.NewGatewayTransientError(&domain.GatewayError{Code: domain.ErrorCode_NetworkError, Message: "connection reset"})
	}

	var resp *domain.GatewayResponse
	switch req.GatewayToken {
	case Token_Success, Token_Flaky:
		resp = approved("txn_" + uuid.NewString())
	case Token_Decline:
		resp = declined(domain.ErrorCode_CardDeclined, "05", "card declined")
	case Token_InsufficientFunds:
		resp = declined(domain.ErrorCode_InsufficientFunds, "51", "insufficient funds")
	case Token_Expired:
		resp = declined(domain.ErrorCode_ExpiredCard, "54", "expired card")
	case Token_3DS:
		txnID := "txn_" + uuid.NewString()
		resp = &domain.GatewayResponse{
			TransactionID: txnID,
			Status:        domain.GatewayStatus_RequiresAction,
			RequiresAction: &domain.RequiredAction{
				Type:        "3DS",
				RedirectURL: "https://gateway.example/3ds/" + txnID,
			},
		}
	default:
		resp = declined(domain.ErrorCode_InvalidToken, "14", "unknown payment token")
	}

	g.charges[req.IdempotencyKey] = resp
	if resp.TransactionID != "" {
		g.txns[resp.TransactionID] = &simTxn{resp: resp, amount: req.Amount}
	}
	return copyResponse(resp), nil
}

func (g *SimulatedGateway) Refund(_ context.Context, req *domain.RefundRequest) (*domain.GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[Operation_Refund]++
	if resp, ok := g.refunds[req.IdempotencyKey]; ok {
		return copyResponse(resp), nil
	}

	txn, ok := g.txns[req.TransactionID]
	var resp *domain.GatewayResponse
	switch {
	case !ok || !txn.resp.Success:
		resp = declined(domain.ErrorCode_ProcessingError, "12", "transaction not refundable")
	case txn.refunded.Add(req.Amount).GreaterThan(txn.amount):
		resp = declined(domain.ErrorCode_ProcessingError, "13", "refund exceeds captured amount")
	default:
		txn.refunded = txn.refunded.Add(req.Amount)
		resp = &domain.GatewayResponse{
			Success:       true,
			TransactionID: "re_" + uuid.NewString(),
			Status:        domain.GatewayStatus_Refunded,
			ResponseCode:  "00",
		}
	}
	g.refunds[req.IdempotencyKey] = resp
	return copyResponse(resp), nil
}

// GetStatus completes pending customer actions, so a 3DS charge reports
// approved on the first status check.
func (g *SimulatedGateway) GetStatus(_ context.Context, txnID string) (*domain.GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[Operation_Status]++
	txn, ok := g.txns[txnID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("gateway transaction %s", txnID)
	}
	if txn.resp.Status == domain.GatewayStatus_RequiresAction {
		txn.resp = approved(txnID)
	}
	return copyResponse(txn.resp), nil
}

func approved(txnID string) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		Success:       true,
		TransactionID: txnID,
		Status:        domain.GatewayStatus_Approved,
		ResponseCode:  "00",
		CardLastFour:  "4242",
		CardBrand:     "VISA",
	}
}

func declined(code domain.ErrorCode, responseCode, msg string) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		Status:       domain.GatewayStatus_Declined,
		ResponseCode: responseCode,
		ErrorCode:    code,
		ErrorMessage: msg,
	}
}

func copyResponse(r *domain.GatewayResponse) *domain.GatewayResponse {
	c := *r
	if r.RequiresAction != nil {
		a := *r.RequiresAction
		c.RequiresAction = &a
	}
	return &c
}
