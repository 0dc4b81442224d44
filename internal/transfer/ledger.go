// Package transfer реализует перевод средств на кастодиальные балансы аккаунтов.
package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/lifevault/internal/repository"
)

// ErrInvalidRecipient - перевод на нулевой адрес.
var ErrInvalidRecipient = errors.New("получатель перевода не задан")

// Ledger зачисляет выплаты на балансы в отдельной транзакции.
// Вызывается после фиксации состояния хранилища.
type Ledger struct {
	db   *sqlx.DB
	repo repository.LedgerRepository
	// newID можно подменить в тестах
	newID func() uuid.UUID
}

// NewLedger создает новый реестр выплат.
func NewLedger(db *sqlx.DB, repo repository.LedgerRepository) *Ledger {
	return &Ledger{
		db:    db,
		repo:  repo,
		newID: uuid.New,
	}
}

// Transfer зачисляет amount на баланс to. Нулевая сумма ничего не делает.
func (l *Ledger) Transfer(ctx context.Context, to common.Address, amount *uint256.Int, reason string) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции перевода: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("[Ledger] Ошибка отката перевода на %s: %v", to.Hex(), rbErr)
		}
	}()

	id := l.newID()
	if err = l.repo.Credit(ctx, tx, id, to, amount, reason); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации перевода: %w", err)
	}

	log.Printf("[Ledger] Перевод %s выполнен: %s на %s (%s)", id, amount.Dec(), to.Hex(), reason)
	return nil
}

// Balance возвращает накопленный баланс аккаунта.
func (l *Ledger) Balance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return l.repo.GetBalance(ctx, l.db, account)
}
