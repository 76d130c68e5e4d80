package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vesta-hoa/vesta/internal/shared"
)

// RepositoryPort defines data access methods for the reconciliation engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateInvoice(ctx context.Context, input IssueInvoiceInput, total decimal.Decimal) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetMovement(ctx context.Context, id int64) (*Movement, error)
	ListMovements(ctx context.Context, invoiceID int64) ([]Movement, error)
	SumValidOffsets(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

// AuditRecorder persists audit trail entries for write operations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard rejects replayed write requests by key.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ReportCacheBumper invalidates cached collections reports after a write.
type ReportCacheBumper interface {
	Bump(ctx context.Context) error
}

const auditModule = "billing"

// Service is the invoice-payment reconciliation engine: it allocates
// movements, voids them, annuls invoices, and keeps the persisted settlement
// state consistent with the valid movement sum at every commit.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	idem   IdempotencyGuard
	bumper ReportCacheBumper
}

// NewService builds a Service instance. audit, idem and bumper may be nil.
func NewService(repo RepositoryPort, audit AuditRecorder, idem IdempotencyGuard, bumper ReportCacheBumper) *Service {
	return &Service{repo: repo, audit: audit, idem: idem, bumper: bumper}
}

// IssueInvoice creates a PENDING invoice at the issuance-service boundary.
// Total is computed here, never trusted from the caller.
func (s *Service) IssueInvoice(ctx context.Context, input IssueInvoiceInput) (*Invoice, error) {
	if input.UnitID == 0 {
		return nil, fmt.Errorf("%w: unit id required", ErrValidation)
	}
	if input.Number == "" {
		return nil, fmt.Errorf("%w: invoice number required", ErrValidation)
	}
	if input.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due date required", ErrValidation)
	}
	if input.Subtotal.IsNegative() || input.Discount.IsNegative() || input.Tax.IsNegative() {
		return nil, fmt.Errorf("%w: subtotal, discount and tax must not be negative", ErrValidation)
	}
	if err := shared.ValidatePeriodLabel(input.PeriodLabel); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	total := input.Subtotal.Add(input.Tax).Sub(input.Discount)
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: discount exceeds subtotal plus tax", ErrValidation)
	}
	if input.IssueDate.IsZero() {
		input.IssueDate = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return s.repo.CreateInvoice(ctx, input, total)
}

// Allocate records one movement against one invoice and transitions the
// settlement state, all inside one transaction. The invoice row is locked and
// the prior offset re-read behind the lock, so two concurrent payments can
// never both fit into the same pending balance.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (*Movement, *Invoice, error) {
	if !input.Kind.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown movement kind %q", ErrValidation, input.Kind)
	}
	if !input.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.Channel == "" {
		return nil, nil, fmt.Errorf("%w: payment channel required", ErrValidation)
	}
	if input.MovedAt.IsZero() {
		input.MovedAt = time.Now().UTC()
	}
	if input.Reference == "" {
		input.Reference = uuid.NewString()
	}

	if err := s.guard(ctx, input.IdempotencyKey); err != nil {
		return nil, nil, err
	}

	var (
		movement *Movement
		invoice  *Invoice
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusAnnulled {
			return fmt.Errorf("%w: invoice %s is annulled", ErrInvalidState, inv.Number)
		}

		status := inv.Status
		if input.Kind.Offsetting() {
			if inv.Status == StatusPaid {
				return fmt.Errorf("%w: invoice %s is already paid", ErrInvalidState, inv.Number)
			}
			priorOffset, err := tx.SumValidOffsets(ctx, inv.ID)
			if err != nil {
				return err
			}
			pending := inv.Total.Sub(priorOffset)
			if input.Amount.GreaterThan(pending) {
				return &ExceedsBalanceError{Pending: pending}
			}
			status = NextState(inv.Total, priorOffset.Add(input.Amount))
		}

		m := Movement{
			InvoiceID:  inv.ID,
			Kind:       input.Kind,
			Amount:     input.Amount,
			MovedAt:    input.MovedAt,
			Channel:    input.Channel,
			Reference:  input.Reference,
			RecordedBy: input.RecordedBy,
		}
		id, err := tx.InsertMovement(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id

		if status != inv.Status {
			if err := tx.UpdateInvoiceStatus(ctx, inv.ID, status); err != nil {
				return err
			}
			inv.Status = status
		}

		movement = &m
		invoice = inv
		return nil
	})
	if err != nil {
		s.unguard(ctx, input.IdempotencyKey)
		return nil, nil, err
	}

	s.recordAudit(ctx, input.RecordedBy, "movement.allocate", strconv.FormatInt(movement.ID, 10), map[string]any{
		"invoice_id": invoice.ID,
		"kind":       string(input.Kind),
		"amount":     input.Amount.String(),
	})
	s.bump(ctx)
	return movement, invoice, nil
}

// Void marks a movement voided and re-derives the invoice state from the
// remaining valid movements. The state is recomputed from scratch, never
// adjusted by reverse arithmetic, so voiding is idempotent in effect and
// order-independent across multiple voids.
func (s *Service) Void(ctx context.Context, input VoidInput) (*Movement, *Invoice, error) {
	if input.Reason == "" {
		return nil, nil, fmt.Errorf("%w: void reason required", ErrValidation)
	}

	if err := s.guard(ctx, input.IdempotencyKey); err != nil {
		return nil, nil, err
	}

	var (
		movement *Movement
		invoice  *Invoice
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Resolve the invoice first and lock it before the movement so the
		// lock order matches Allocate.
		peek, err := s.repo.GetMovement(ctx, input.MovementID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, peek.InvoiceID)
		if err != nil {
			return err
		}
		m, err := tx.GetMovementForUpdate(ctx, input.MovementID)
		if err != nil {
			return err
		}
		if m.Voided {
			return ErrAlreadyVoided
		}

		now := time.Now().UTC()
		if err := tx.MarkMovementVoided(ctx, m.ID, input.Reason, input.VoidedBy, now); err != nil {
			return err
		}
		m.Voided = true
		m.VoidReason = input.Reason
		m.VoidedBy = &input.VoidedBy
		m.VoidedAt = &now

		if inv.Status != StatusAnnulled {
			offset, err := tx.SumValidOffsets(ctx, inv.ID)
			if err != nil {
				return err
			}
			status := NextState(inv.Total, offset)
			if status != inv.Status {
				if err := tx.UpdateInvoiceStatus(ctx, inv.ID, status); err != nil {
					return err
				}
				inv.Status = status
			}
		}

		movement = m
		invoice = inv
		return nil
	})
	if err != nil {
		s.unguard(ctx, input.IdempotencyKey)
		return nil, nil, err
	}

	s.recordAudit(ctx, input.VoidedBy, "movement.void", strconv.FormatInt(movement.ID, 10), map[string]any{
		"invoice_id": invoice.ID,
		"reason":     input.Reason,
	})
	s.bump(ctx)
	return movement, invoice, nil
}

// Annul marks an invoice ANNULLED. Forbidden once any valid offsetting
// movement exists: payments must be voided first so the trail of who paid
// what survives the annulment.
func (s *Service) Annul(ctx context.Context, input AnnulInput) (*Invoice, error) {
	if input.Reason == "" {
		return nil, fmt.Errorf("%w: annulment reason required", ErrValidation)
	}

	var invoice *Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusAnnulled:
			return fmt.Errorf("%w: invoice %s is already annulled", ErrInvalidState, inv.Number)
		case StatusPaid:
			return fmt.Errorf("%w: paid invoice %s cannot be annulled", ErrInvalidState, inv.Number)
		}
		offset, err := tx.SumValidOffsets(ctx, inv.ID)
		if err != nil {
			return err
		}
		if offset.IsPositive() {
			return fmt.Errorf("%w: invoice %s has recorded payments of %s; void them first", ErrInvalidState, inv.Number, offset.String())
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, StatusAnnulled); err != nil {
			return err
		}
		inv.Status = StatusAnnulled
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.AnnulledBy, "invoice.annul", strconv.FormatInt(invoice.ID, 10), map[string]any{
		"number": invoice.Number,
		"reason": input.Reason,
	})
	s.bump(ctx)
	return invoice, nil
}

// GetInvoiceWithMovements returns the invoice detail view with derived
// settlement figures and the read-time overdue label.
func (s *Service) GetInvoiceWithMovements(ctx context.Context, id int64, asOf time.Time) (*InvoiceWithMovements, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, id)
	if err != nil {
		return nil, err
	}
	offset, err := s.repo.SumValidOffsets(ctx, id)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	balance := inv.Total.Sub(offset)
	return &InvoiceWithMovements{
		Invoice:   *inv,
		Movements: movements,
		Offset:    offset,
		Balance:   balance,
		Display:   DisplayState(inv.Status, balance, inv.DueDate, asOf),
	}, nil
}

func (s *Service) guard(ctx context.Context, key string) error {
	if s.idem == nil || key == "" {
		return nil
	}
	return s.idem.CheckAndInsert(ctx, key, auditModule)
}

func (s *Service) unguard(ctx context.Context, key string) {
	if s.idem == nil || key == "" {
		return
	}
	_ = s.idem.Delete(ctx, key)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   auditModule,
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) bump(ctx context.Context) {
	if s.bumper == nil {
		return
	}
	_ = s.bumper.Bump(ctx)
}
