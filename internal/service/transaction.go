package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// TransactionService lists records and accepts credits pushed by clients.
type TransactionService struct {
	store   *repository.Store
	credits *CustomerService
	logger  *slog.Logger
}

// NewTransactionService creates a TransactionService. Credits posted as
// transactions are booked through credits.
func NewTransactionService(store *repository.Store, credits *CustomerService, logger *slog.Logger) *TransactionService {
	return &TransactionService{store: store, credits: credits, logger: logger}
}

// List returns the transactions matching f.
func (s *TransactionService) List(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	txs, err := s.store.Transactions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Create books a MANUAL or DEPOSIT record under the deposit rules and
// replaces tx with the stored record. Cost records are written by ingestion
// only and are rejected.
func (s *TransactionService) Create(ctx context.Context, tx *model.Transaction) error {
	switch tx.TransactionType {
	case model.TransactionManual, model.TransactionDeposit:
	case model.TransactionDataExport:
		return fieldError("transactionType", "cost records are created by ingestion only")
	default:
		return fieldError("transactionType", "must be MANUAL or DEPOSIT")
	}

	d := model.DepositFromTransaction(*tx)
	stored, err := s.credits.RecordCredit(ctx, &d, tx.TransactionType)
	if err != nil {
		return err
	}
	*tx = stored
	return nil
}
