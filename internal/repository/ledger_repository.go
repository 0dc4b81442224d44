package repository

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
	"github.com/maynagashev/lifevault/internal/models"
)

// LedgerRepository хранит кастодиальные балансы аккаунтов и журнал переводов.
type LedgerRepository interface {
	// Credit записывает перевод и увеличивает баланс получателя.
	Credit(
		ctx context.Context,
		q sqlx.ExtContext,
		id uuid.UUID,
		recipient common.Address,
		amount *uint256.Int,
		reason string,
	) error
	GetBalance(ctx context.Context, q sqlx.ExtContext, account common.Address) (*uint256.Int, error)
}

// postgresLedgerRepository реализует LedgerRepository для PostgreSQL.
type postgresLedgerRepository struct{}

// NewPostgresLedgerRepository создает новый экземпляр репозитория реестра выплат.
func NewPostgresLedgerRepository() LedgerRepository {
	return &postgresLedgerRepository{}
}

// Credit записывает перевод и увеличивает баланс получателя.
func (r *postgresLedgerRepository) Credit(
	ctx context.Context,
	q sqlx.ExtContext,
	id uuid.UUID,
	recipient common.Address,
	amount *uint256.Int,
	reason string,
) error {
	insertQuery := `INSERT INTO ledger_transfers (id, recipient, amount, reason) VALUES ($1, $2, $3, $4)`
	if _, err := q.ExecContext(ctx, insertQuery, id.String(), recipient.Hex(), amount.Dec(), reason); err != nil {
		log.Printf("[LedgerRepo] Ошибка записи перевода %s для %s: %v", id, recipient.Hex(), err)
		return fmt.Errorf("ошибка выполнения запроса на запись перевода: %w", err)
	}

	balanceQuery := `INSERT INTO ledger_balances (account, balance) VALUES ($1, $2)
	                 ON CONFLICT (account) DO UPDATE SET balance = ledger_balances.balance + EXCLUDED.balance`
	if _, err := q.ExecContext(ctx, balanceQuery, recipient.Hex(), amount.Dec()); err != nil {
		log.Printf("[LedgerRepo] Ошибка обновления баланса %s: %v", recipient.Hex(), err)
		return fmt.Errorf("ошибка выполнения запроса на обновление баланса: %w", err)
	}

	log.Printf("[LedgerRepo] Перевод %s: %s зачислено на %s (%s)", id, amount.Dec(), recipient.Hex(), reason)
	return nil
}

// GetBalance возвращает баланс аккаунта. Для неизвестного аккаунта - ноль.
func (r *postgresLedgerRepository) GetBalance(
	ctx context.Context,
	q sqlx.ExtContext,
	account common.Address,
) (*uint256.Int, error) {
	var balance string
	query := `SELECT balance FROM ledger_balances WHERE account=$1`
	err := sqlx.GetContext(ctx, q, &balance, query, account.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return new(uint256.Int), nil
		}
		log.Printf("[LedgerRepo] Ошибка получения баланса %s: %v", account.Hex(), err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение баланса: %w", err)
	}
	return models.ParseAmount(balance)
}
