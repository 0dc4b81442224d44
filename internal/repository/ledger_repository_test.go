package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/lifevault/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedgerRepoMock(t *testing.T) (repository.LedgerRepository, *sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return repository.NewPostgresLedgerRepository(), sqlx.NewDb(db, "sqlmock"), mock
}

func TestLedgerCredit(t *testing.T) {
	id := uuid.New()

	t.Run("Успешное зачисление", func(t *testing.T) {
		repo, db, mock := setupLedgerRepoMock(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ledger_transfers (id, recipient, amount, reason)`)).
			WithArgs(id.String(), testBeneficiary.Hex(), "950", "withdraw").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ledger_balances (account, balance)`)).
			WithArgs(testBeneficiary.Hex(), "950").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Credit(context.Background(), db, id, testBeneficiary, uint256.NewInt(950), "withdraw")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Ошибка записи перевода", func(t *testing.T) {
		repo, db, mock := setupLedgerRepoMock(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ledger_transfers`)).
			WillReturnError(errors.New("disk full"))

		err := repo.Credit(context.Background(), db, id, testBeneficiary, uint256.NewInt(1), "fee")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ошибка выполнения запроса на запись перевода")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerGetBalance(t *testing.T) {
	query := regexp.QuoteMeta(`SELECT balance FROM ledger_balances WHERE account=$1`)

	t.Run("Баланс найден", func(t *testing.T) {
		repo, db, mock := setupLedgerRepoMock(t)
		mock.ExpectQuery(query).WithArgs(testOwner.Hex()).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("115792089237316195423570985008687907853269984665640564039457584007913129639935"))

		balance, err := repo.GetBalance(context.Background(), db, testOwner)
		require.NoError(t, err)
		assert.Equal(t, new(uint256.Int).SetAllOne(), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Аккаунт без выплат", func(t *testing.T) {
		repo, db, mock := setupLedgerRepoMock(t)
		mock.ExpectQuery(query).WithArgs(testOwner.Hex()).WillReturnError(sql.ErrNoRows)

		balance, err := repo.GetBalance(context.Background(), db, testOwner)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
