package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/application"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	Header_IdempotencyKey = "Idempotency-Key"
	Header_CorrelationID  = "X-Correlation-ID"
	Header_Replayed       = "Idempotent-Replayed"
)

type PaymentService interface {
	CreatePayment(ctx context.Context, cmd application.CreatePaymentCommand) (*application.PaymentResult, error)
	RetryPayment(ctx context.Context, cmd application.RetryPaymentCommand) (*application.PaymentResult, error)
	RefundPayment(ctx context.Context, cmd application.RefundPaymentCommand) (*application.PaymentResult, error)
	ResolvePending(ctx context.Context, paymentID string) (*application.PaymentResult, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
}

type Server struct {
	svc            PaymentService
	requestTimeout time.Duration
}

func NewServer(svc PaymentService, requestTimeout time.Duration) *Server {
	return &Server{svc: svc, requestTimeout: requestTimeout}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", s.handleCreatePayment)
	mux.HandleFunc("GET /payments/{id}", s.handleGetPayment)
	mux.HandleFunc("POST /payments/{id}/refund", s.handleRefundPayment)
	mux.HandleFunc("POST /payments/{id}/retry", s.handleRetryPayment)
	mux.HandleFunc("POST /payments/{id}/resolve", s.handleResolvePayment)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type createPaymentRequest struct {
	OrderID       string          `json:"orderId"`
	CustomerID    string          `json:"customerId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	GatewayToken  string          `json:"gatewayToken"`
}

type refundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
}

type retryPaymentRequest struct {
	GatewayToken string `json:"gatewayToken,omitempty"`
}

type errorResponse struct {
	Code      pkgerrors.Code `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	req := &createPaymentRequest{}
	if err := decodeBody(r, req); err != nil {
		writeError(w, err)
		return
	}
	key := r.Header.Get(Header_IdempotencyKey)
	if key == "" {
		writeError(w, pkgerrors.NewValidationError("%s header is required", Header_IdempotencyKey))
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	res, err := s.svc.CreatePayment(ctx, application.CreatePaymentCommand{
		IdempotencyKey: key,
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentMethod:  req.PaymentMethod,
		GatewayToken:   req.GatewayToken,
		CorrelationID:  r.Header.Get(Header_CorrelationID),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	switch {
	case res.RequiresAction != nil:
		status = http.StatusAccepted
	case res.Duplicate:
		status = http.StatusOK
	}
	writeResult(w, status, res)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	req := &refundPaymentRequest{}
	if err := decodeBody(r, req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	res, err := s.svc.RefundPayment(ctx, application.RefundPaymentCommand{
		PaymentID:      r.PathValue("id"),
		IdempotencyKey: r.Header.Get(Header_IdempotencyKey),
		Amount:         req.Amount,
		Reason:         req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (s *Server) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	req := &retryPaymentRequest{}
	if err := decodeBody(r, req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	res, err := s.svc.RetryPayment(ctx, application.RetryPaymentCommand{
		PaymentID:    r.PathValue("id"),
		GatewayToken: req.GatewayToken,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (s *Server) handleResolvePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	res, err := s.svc.ResolvePending(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

// decodeBody accepts an empty body for endpoints whose fields are optional.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return pkgerrors.NewJSONParsingError(err)
	}
	return nil
}

func writeResult(w http.ResponseWriter, status int, res *application.PaymentResult) {
	if res.Duplicate {
		w.Header().Set(Header_Replayed, "true")
	}
	writeJSON(w, status, res)
}

func writeError(w http.ResponseWriter, err error) {
	status := pkgerrors.HTTPStatus(err)
	body := errorResponse{
		Code:      pkgerrors.GetErrorCode(err),
		Message:   err.Error(),
		Retryable: pkgerrors.IsRetryable(err),
	}
	var appErr *pkgerrors.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logrus.WithField("status", status).Errorf("HTTP:ERROR %v", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("HTTP:ENCODE:FAILED %v", err)
	}
}
