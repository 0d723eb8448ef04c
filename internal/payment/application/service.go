package application

import (
	"context"
	"errors"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/gateway"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/k-code-yt/payment-saga/pkg/idempotency"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/k-code-yt/payment-saga/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Admitter rejects a gateway operation before any state is changed.
type Admitter interface {
	Admit(op string) error
}

type ServiceConfig struct {
	ResultTTL      time.Duration
	PersistTimeout time.Duration
}

var DefaultServiceConfig = ServiceConfig{
	ResultTTL:      24 * time.Hour,
	PersistTimeout: 5 * time.Second,
}

type Service struct {
	repo    domain.Repository
	gateway domain.Gateway
	admit   Admitter
	coord   *idempotency.Coordinator
	metrics *metrics.Metrics
	cfg     ServiceConfig
}

func NewService(repo domain.Repository, gw domain.Gateway, coord *idempotency.Coordinator, m *metrics.Metrics, cfg ServiceConfig) *Service {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultServiceConfig.ResultTTL
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultServiceConfig.PersistTimeout
	}
	s := &Service{
		repo:    repo,
		gateway: gw,
		coord:   coord,
		metrics: m,
		cfg:     cfg,
	}
	if a, ok := gw.(Admitter); ok {
		s.admit = a
	}
	return s
}

type CreatePaymentCommand struct {
	IdempotencyKey string
	OrderID        string
	CustomerID     string
	Amount         decimal.Decimal
	Currency       string
	PaymentMethod  string
	GatewayToken   string
	CorrelationID  string
}

type RetryPaymentCommand struct {
	PaymentID string
	// GatewayToken replaces the stored token when set.
	GatewayToken string
}

type RefundPaymentCommand struct {
	PaymentID      string
	IdempotencyKey string
	// Amount defaults to the full payment amount.
	Amount *decimal.Decimal
	Reason string
}

type PaymentResult struct {
	Payment        *domain.Payment        `json:"payment"`
	RequiresAction *domain.RequiredAction `json:"requiresAction,omitempty"`
	Duplicate      bool                   `json:"-"`
}

// unsettledPaymentError carries an existing PROCESSING payment out of the
// idempotent section so the snapshot is returned without being cached.
type unsettledPaymentError struct {
	payment *domain.Payment
}

func (e *unsettledPaymentError) Error() string {
	return "payment " + e.payment.ID + " is still processing"
}

func (s *Service) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (*PaymentResult, error) {
	res, dup, err := idempotency.Execute(ctx, s.coord, cmd.IdempotencyKey, s.cfg.ResultTTL, func(ctx context.Context) (*PaymentResult, error) {
		return s.createPayment(ctx, cmd)
	})
	var unsettled *unsettledPaymentError
	if errors.As(err, &unsettled) {
		return &PaymentResult{Payment: unsettled.payment, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}
	res.Duplicate = dup
	return res, nil
}

func existingResult(p *domain.Payment) (*PaymentResult, error) {
	if p.Status == domain.PaymentStatus_Processing {
		return nil, &unsettledPaymentError{payment: p}
	}
	return &PaymentResult{Payment: p}, nil
}

func (s *Service) createPayment(ctx context.Context, cmd CreatePaymentCommand) (*PaymentResult, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
	if err == nil {
		return existingResult(existing)
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	p, err := domain.NewPayment(domain.NewPaymentParams{
		OrderID:        cmd.OrderID,
		CustomerID:     cmd.CustomerID,
		IdempotencyKey: cmd.IdempotencyKey,
		Amount:         cmd.Amount,
		Currency:       cmd.Currency,
		CorrelationID:  cmd.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	if err := p.Initiate(cmd.PaymentMethod, cmd.GatewayToken); err != nil {
		return nil, err
	}
	if err := s.admitOp(gateway.Operation_Charge); err != nil {
		return nil, err
	}

	err = s.persist(ctx, func(ctx context.Context) error {
		return s.repo.Insert(ctx, p, p.PullEvents()...)
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateKey) {
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			return existingResult(existing)
		}
		return nil, err
	}
	s.metrics.PaymentsTotal.WithLabelValues(string(p.Status)).Inc()
	s.logPayment(p).Info("PAYMENT:PROCESSING")

	return s.charge(ctx, p)
}

func (s *Service) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (*PaymentResult, error) {
	p, err := s.repo.FindByID(ctx, cmd.PaymentID)
	if err != nil {
		return nil, err
	}
	attempt := p.AttemptCount

	res, dup, err := idempotency.Execute(ctx, s.coord, RetryKey(p.ID, attempt), s.cfg.ResultTTL, func(ctx context.Context) (*PaymentResult, error) {
		p, err := s.repo.FindByID(ctx, cmd.PaymentID)
		if err != nil {
			return nil, err
		}
		if p.AttemptCount != attempt {
			return &PaymentResult{Payment: p}, nil
		}
		if err := p.Retry(cmd.GatewayToken); err != nil {
			return nil, err
		}
		if err := s.admitOp(gateway.Operation_Charge); err != nil {
			return nil, err
		}
		if err := s.update(ctx, p); err != nil {
			return nil, err
		}
		s.logPayment(p).Info("PAYMENT:RETRY")
		return s.charge(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	res.Duplicate = dup
	return res, nil
}

func (s *Service) charge(ctx context.Context, p *domain.Payment) (*PaymentResult, error) {
	resp, callErr := s.gateway.Charge(ctx, &domain.ChargeRequest{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		PaymentMethod:  p.PaymentMethod,
		GatewayToken:   p.GatewayToken,
		IdempotencyKey: chargeKey(p.IdempotencyKey, p.AttemptCount),
	})
	return s.applyChargeOutcome(ctx, p, resp, callErr)
}

// applyChargeOutcome maps a gateway result onto the payment. An unknown
// outcome leaves the payment in PROCESSING for the sweeper.
func (s *Service) applyChargeOutcome(ctx context.Context, p *domain.Payment, resp *domain.GatewayResponse, callErr error) (*PaymentResult, error) {
	res := &PaymentResult{Payment: p}
	switch {
	case callErr == nil && resp.Success:
		if err := p.MarkSuccess(resp.TransactionID, resp.ResponseCode, resp.CardLastFour, resp.CardBrand); err != nil {
			return nil, err
		}
	case callErr == nil && resp.Status == domain.GatewayStatus_RequiresAction:
		if p.GatewayTransactionID == resp.TransactionID {
			res.RequiresAction = resp.RequiresAction
			return res, nil
		}
		p.GatewayTransactionID = resp.TransactionID
		p.UpdatedAt = time.Now().UTC()
		res.RequiresAction = resp.RequiresAction
	case callErr == nil:
		code := resp.ErrorCode
		if code == "" {
			code = domain.ErrorCode_ProcessingError
		}
		p.ResponseCode = resp.ResponseCode
		if err := p.MarkFailed(code, resp.ErrorMessage); err != nil {
			return nil, err
		}
	case resilience.IsTransientError(callErr),
		pkgerrors.IsCode(callErr, pkgerrors.CodeCircuitOpen),
		pkgerrors.IsCode(callErr, pkgerrors.CodeRateLimitExceeded):
		code := domain.ErrorCode_GatewayUnavailable
		var gwErr *domain.GatewayError
		if errors.As(callErr, &gwErr) {
			code = gwErr.Code
		}
		if err := p.MarkFailed(code, callErr.Error()); err != nil {
			return nil, err
		}
	default:
		s.logPayment(p).Warnf("PAYMENT:OUTCOME_UNKNOWN %v", callErr)
		return nil, pkgerrors.NewGatewayTransientError(callErr)
	}

	if err := s.update(ctx, p); err != nil {
		return nil, err
	}
	switch p.Status {
	case domain.PaymentStatus_Success:
		s.logPayment(p).Info("PAYMENT:COMPLETED")
	case domain.PaymentStatus_Failed:
		s.logPayment(p).WithFields(logrus.Fields{
			"errorCode": p.ErrorCode,
			"retryable": p.Retryable,
		}).Warn("PAYMENT:FAILED")
	default:
		s.logPayment(p).Info("PAYMENT:REQUIRES_ACTION")
	}
	return res, nil
}

func (s *Service) RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (*PaymentResult, error) {
	key := cmd.IdempotencyKey
	if key == "" {
		p, err := s.repo.FindByID(ctx, cmd.PaymentID)
		if err != nil {
			return nil, err
		}
		key = p.IdempotencyKey
	}

	res, dup, err := idempotency.Execute(ctx, s.coord, RefundKey(key), s.cfg.ResultTTL, func(ctx context.Context) (*PaymentResult, error) {
		p, err := s.refund(ctx, cmd.PaymentID, cmd.Amount, cmd.Reason)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Payment: p}, nil
	})
	if err != nil {
		return nil, err
	}
	res.Duplicate = dup
	return res, nil
}

// refund is the only path that moves money back. It holds the per-payment
// refund lock and reads the payment under it, so two requests with different
// idempotency keys cannot both reach the provider.
func (s *Service) refund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (*domain.Payment, error) {
	var refunded *domain.Payment
	err := s.coord.WithLock(ctx, PaymentRefundLockKey(paymentID), func(ctx context.Context) error {
		p, err := s.repo.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		refundAmount, err := p.RefundableAmount(amount)
		if err != nil {
			return err
		}
		if err := s.admitOp(gateway.Operation_Refund); err != nil {
			return err
		}

		resp, err := s.gateway.Refund(ctx, &domain.RefundRequest{
			PaymentID:      p.ID,
			TransactionID:  p.GatewayTransactionID,
			Amount:         refundAmount,
			Reason:         reason,
			IdempotencyKey: refundProviderKey(p.ID),
		})
		if err != nil {
			refundErr := pkgerrors.NewRefundFailedError("gateway refund call failed", err)
			refundErr.Retryable = pkgerrors.IsRetryable(err)
			return refundErr
		}
		if !resp.Success {
			s.logPayment(p).WithField("errorCode", resp.ErrorCode).Warn("PAYMENT:REFUND:DECLINED")
			return pkgerrors.NewRefundFailedError(resp.ErrorMessage, pkgerrors.NewGatewayDeclinedError(string(resp.ErrorCode), resp.ErrorMessage))
		}

		if err := p.MarkRefunded(resp.TransactionID, refundAmount, reason); err != nil {
			return err
		}
		if err := s.update(ctx, p); err != nil {
			return err
		}
		s.logPayment(p).WithField("refundAmount", refundAmount.StringFixed(2)).Info("PAYMENT:REFUNDED")
		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

type OrderRefundResult struct {
	Refunded bool            `json:"refunded"`
	Payment  *domain.Payment `json:"payment,omitempty"`
}

var errPaymentInFlight = errors.New("payment for order still processing")

// RefundForOrder compensates a cancelled or failed order. It is a no-op when
// the order has no successful payment or was already refunded. While the
// order's payment is still PROCESSING it fails with a retryable error so the
// event is redelivered instead of acknowledged.
func (s *Service) RefundForOrder(ctx context.Context, orderID, reason string) (*OrderRefundResult, error) {
	key := OrderRefundKey(orderID)
	res, dup, err := idempotency.Execute(ctx, s.coord, key, s.cfg.ResultTTL, func(ctx context.Context) (*OrderRefundResult, error) {
		payments, err := s.repo.FindByOrderID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		var target *domain.Payment
		inFlight := false
		for _, p := range payments {
			switch p.Status {
			case domain.PaymentStatus_Success:
				target = p
			case domain.PaymentStatus_Processing:
				inFlight = true
			}
		}
		if target == nil {
			if inFlight {
				return nil, errPaymentInFlight
			}
			return &OrderRefundResult{}, nil
		}

		refunded, err := s.refund(ctx, target.ID, nil, reason)
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidStateTransition) {
			current, findErr := s.repo.FindByID(ctx, target.ID)
			if findErr == nil && current.Status == domain.PaymentStatus_Refunded {
				return &OrderRefundResult{Payment: current}, nil
			}
		}
		if err != nil {
			return nil, err
		}
		return &OrderRefundResult{Refunded: true, Payment: refunded}, nil
	})
	if errors.Is(err, errPaymentInFlight) {
		logrus.WithField("orderID", orderID).Warn("SAGA:REFUND:DEFERRED_PROCESSING")
		deferred := pkgerrors.NewRefundFailedError("order payment is still processing", err)
		deferred.Retryable = true
		return nil, deferred
	}
	if err != nil {
		return nil, err
	}
	if dup {
		logrus.WithField("orderID", orderID).Info("SAGA:REFUND:DUPLICATE")
	}
	return res, nil
}

// ResolvePending asks the gateway for the outcome of a PROCESSING payment
// that already has a transaction id, such as a charge waiting on 3DS.
func (s *Service) ResolvePending(ctx context.Context, paymentID string) (*PaymentResult, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentStatus_Processing || p.GatewayTransactionID == "" {
		return nil, pkgerrors.NewInvalidStateTransitionError(p.Status.String(), domain.PaymentStatus_Success.String())
	}
	resp, callErr := s.gateway.GetStatus(ctx, p.GatewayTransactionID)
	return s.applyChargeOutcome(ctx, p, resp, callErr)
}

func (s *Service) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) admitOp(op string) error {
	if s.admit == nil {
		return nil
	}
	return s.admit.Admit(op)
}

// update persists p with its pending events. The write survives a cancelled
// caller because the gateway outcome it records already happened.
func (s *Service) update(ctx context.Context, p *domain.Payment) error {
	err := s.persist(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return s.repo.Update(ctx, p, p.PullEvents()...)
	})
	if err != nil {
		s.logPayment(p).Errorf("PAYMENT:PERSIST:FAILED %v", err)
		return err
	}
	s.metrics.PaymentsTotal.WithLabelValues(string(p.Status)).Inc()
	return nil
}

func (s *Service) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := resilience.WithTimeout(ctx, s.cfg.PersistTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (s *Service) logPayment(p *domain.Payment) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"paymentID":      p.ID,
		"orderID":        p.OrderID,
		"status":         p.Status,
		"attempt":        p.AttemptCount,
		"idempotencyKey": p.IdempotencyKey,
		"correlationID":  p.CorrelationID,
	})
}
