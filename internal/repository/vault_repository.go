package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/lifevault/internal/models"
)

// VaultRepository определяет методы для работы с таблицей слотов хранилищ.
// Все методы принимают sqlx.ExtContext, чтобы их можно было вызывать
// как в транзакции, так и напрямую на *sqlx.DB.
type VaultRepository interface {
	// LockAccount блокирует запись аккаунта до конца транзакции и возвращает high-water mark.
	LockAccount(ctx context.Context, q sqlx.ExtContext, owner common.Address) (uint8, error)
	GetSlots(ctx context.Context, q sqlx.ExtContext, owner common.Address) ([models.MaxSlots]models.Vault, error)
	GetSlot(ctx context.Context, q sqlx.ExtContext, owner common.Address, slot uint8) (*models.Vault, error)
	SaveSlot(ctx context.Context, q sqlx.ExtContext, vault *models.Vault) error
	CloseSlot(ctx context.Context, q sqlx.ExtContext, owner common.Address, slot uint8) error
	TouchLastSeen(ctx context.Context, q sqlx.ExtContext, owner common.Address, slot uint8, lastSeen uint64) error
	SetHighWaterMark(ctx context.Context, q sqlx.ExtContext, owner common.Address, mark uint8) error
	GetHighWaterMark(ctx context.Context, q sqlx.ExtContext, owner common.Address) (uint8, error)
}

// postgresVaultRepository реализует VaultRepository для PostgreSQL.
type postgresVaultRepository struct{}

// NewPostgresVaultRepository создает новый экземпляр репозитория хранилищ.
func NewPostgresVaultRepository() VaultRepository {
	return &postgresVaultRepository{}
}

// vaultRow - строка таблицы vault_slots. NUMERIC-поля читаются строками.
type vaultRow struct {
	Owner       string `db:"owner"`
	Slot        int16  `db:"slot"`
	Active      bool   `db:"active"`
	Kind        int16  `db:"kind"`
	Amount      string `db:"amount"`
	Schedule    string `db:"schedule"`
	LastSeen    string `db:"last_seen"`
	Beneficiary string `db:"beneficiary"`
}

func (r vaultRow) toModel() (*models.Vault, error) {
	amount, err := models.ParseAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	schedule, err := parseUint(r.Schedule)
	if err != nil {
		return nil, fmt.Errorf("неверное значение schedule: %w", err)
	}
	lastSeen, err := parseUint(r.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("неверное значение last_seen: %w", err)
	}
	vault := &models.Vault{
		Owner:    common.HexToAddress(r.Owner),
		Slot:     uint8(r.Slot), //nolint:gosec // CHECK в схеме ограничивает slot диапазоном 0..4
		Active:   r.Active,
		Kind:     models.VaultKind(r.Kind), //nolint:gosec // kind записывается только из VaultKind
		Amount:   amount,
		Schedule: schedule,
		LastSeen: lastSeen,
	}
	if r.Beneficiary != "" {
		vault.Beneficiary = common.HexToAddress(r.Beneficiary)
	}
	return vault, nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

const selectSlotColumns = `SELECT owner, slot, active, kind, amount, schedule, last_seen, beneficiary FROM vault_slots`

// LockAccount создает запись аккаунта при первом обращении и блокирует ее (SELECT ... FOR UPDATE).
// Все изменяющие операции над слотами одного аккаунта идут через эту блокировку.
func (r *postgresVaultRepository) LockAccount(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
) (uint8, error) {
	insertQuery := `INSERT INTO vault_accounts (owner) VALUES ($1) ON CONFLICT (owner) DO NOTHING`
	if _, err := q.ExecContext(ctx, insertQuery, owner.Hex()); err != nil {
		log.Printf("[VaultRepo] Ошибка создания записи аккаунта %s: %v", owner.Hex(), err)
		return 0, fmt.Errorf("ошибка выполнения запроса на создание аккаунта: %w", err)
	}

	var mark int16
	lockQuery := `SELECT high_water_mark FROM vault_accounts WHERE owner=$1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, q, &mark, lockQuery, owner.Hex()); err != nil {
		log.Printf("[VaultRepo] Ошибка блокировки аккаунта %s: %v", owner.Hex(), err)
		return 0, fmt.Errorf("ошибка выполнения запроса на блокировку аккаунта: %w", err)
	}

	return uint8(mark), nil //nolint:gosec // high_water_mark не превышает MaxSlots
}

// GetSlots возвращает все слоты аккаунта. Несозданные слоты заполняются нулевыми значениями.
func (r *postgresVaultRepository) GetSlots(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
) ([models.MaxSlots]models.Vault, error) {
	var slots [models.MaxSlots]models.Vault
	for i := range slots {
		slots[i] = *models.EmptyVault(owner, uint8(i)) //nolint:gosec // i < MaxSlots
	}

	var rows []vaultRow
	query := selectSlotColumns + ` WHERE owner=$1 ORDER BY slot`
	if err := sqlx.SelectContext(ctx, q, &rows, query, owner.Hex()); err != nil {
		log.Printf("[VaultRepo] Ошибка получения слотов аккаунта %s: %v", owner.Hex(), err)
		return slots, fmt.Errorf("ошибка выполнения запроса на получение слотов: %w", err)
	}

	for _, row := range rows {
		vault, err := row.toModel()
		if err != nil {
			return slots, fmt.Errorf("ошибка чтения слота %d аккаунта %s: %w", row.Slot, owner.Hex(), err)
		}
		if int(vault.Slot) < models.MaxSlots {
			slots[vault.Slot] = *vault
		}
	}

	return slots, nil
}

// GetSlot возвращает один слот. Для несозданного слота (в том числе за пределами 0..4)
// возвращается пустой слот без ошибки.
func (r *postgresVaultRepository) GetSlot(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	slot uint8,
) (*models.Vault, error) {
	if int(slot) >= models.MaxSlots {
		return models.EmptyVault(owner, slot), nil
	}

	var row vaultRow
	query := selectSlotColumns + ` WHERE owner=$1 AND slot=$2`
	err := sqlx.GetContext(ctx, q, &row, query, owner.Hex(), int16(slot))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.EmptyVault(owner, slot), nil
		}
		log.Printf("[VaultRepo] Ошибка получения слота %d аккаунта %s: %v", slot, owner.Hex(), err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение слота: %w", err)
	}

	return row.toModel()
}

// SaveSlot полностью перезаписывает слот. Используется только при создании хранилища.
func (r *postgresVaultRepository) SaveSlot(ctx context.Context, q sqlx.ExtContext, vault *models.Vault) error {
	query := `INSERT INTO vault_slots (owner, slot, active, kind, amount, schedule, last_seen, beneficiary)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (owner, slot) DO UPDATE SET
	              active=EXCLUDED.active, kind=EXCLUDED.kind, amount=EXCLUDED.amount,
	              schedule=EXCLUDED.schedule, last_seen=EXCLUDED.last_seen, beneficiary=EXCLUDED.beneficiary`

	amount := "0"
	if vault.Amount != nil {
		amount = vault.Amount.Dec()
	}
	_, err := q.ExecContext(ctx, query,
		vault.Owner.Hex(), int16(vault.Slot), vault.Active, int16(vault.Kind), amount,
		strconv.FormatUint(vault.Schedule, 10), strconv.FormatUint(vault.LastSeen, 10), vault.Beneficiary.Hex(),
	)
	if err != nil {
		log.Printf("[VaultRepo] Ошибка сохранения слота %d аккаунта %s: %v", vault.Slot, vault.Owner.Hex(), err)
		return fmt.Errorf("ошибка выполнения запроса на сохранение слота: %w", err)
	}

	log.Printf("[VaultRepo] Слот %d аккаунта %s сохранен", vault.Slot, vault.Owner.Hex())
	return nil
}

// CloseSlot помечает слот неактивным и обнуляет сумму. Тип и бенефициар не меняются.
func (r *postgresVaultRepository) CloseSlot(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	slot uint8,
) error {
	query := `UPDATE vault_slots SET active=FALSE, amount=0 WHERE owner=$1 AND slot=$2`
	return r.execSingleRow(ctx, q, query, "закрытие слота", owner, slot, owner.Hex(), int16(slot))
}

// TouchLastSeen обновляет время последней активности владельца.
func (r *postgresVaultRepository) TouchLastSeen(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	slot uint8,
	lastSeen uint64,
) error {
	query := `UPDATE vault_slots SET last_seen=$3 WHERE owner=$1 AND slot=$2`
	return r.execSingleRow(ctx, q, query, "обновление last_seen", owner, slot,
		owner.Hex(), int16(slot), strconv.FormatUint(lastSeen, 10))
}

func (r *postgresVaultRepository) execSingleRow(
	ctx context.Context,
	q sqlx.ExtContext,
	query, action string,
	owner common.Address,
	slot uint8,
	args ...any,
) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		log.Printf("[VaultRepo] Ошибка (%s) для слота %d аккаунта %s: %v", action, slot, owner.Hex(), err)
		return fmt.Errorf("ошибка выполнения запроса (%s): %w", action, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества измененных строк (%s): %w", action, err)
	}
	if rows == 0 {
		log.Printf("[VaultRepo] Слот %d аккаунта %s не найден (%s)", slot, owner.Hex(), action)
		return ErrSlotNotFound
	}
	return nil
}

// SetHighWaterMark записывает исторический максимум занятых слотов.
func (r *postgresVaultRepository) SetHighWaterMark(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	mark uint8,
) error {
	query := `UPDATE vault_accounts SET high_water_mark=GREATEST(high_water_mark, $2) WHERE owner=$1`
	if _, err := q.ExecContext(ctx, query, owner.Hex(), int16(mark)); err != nil {
		log.Printf("[VaultRepo] Ошибка обновления high-water mark аккаунта %s: %v", owner.Hex(), err)
		return fmt.Errorf("ошибка выполнения запроса на обновление high-water mark: %w", err)
	}
	return nil
}

// GetHighWaterMark возвращает исторический максимум. Для неизвестного аккаунта - 0.
func (r *postgresVaultRepository) GetHighWaterMark(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
) (uint8, error) {
	var mark int16
	query := `SELECT high_water_mark FROM vault_accounts WHERE owner=$1`
	err := sqlx.GetContext(ctx, q, &mark, query, owner.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		log.Printf("[VaultRepo] Ошибка получения high-water mark аккаунта %s: %v", owner.Hex(), err)
		return 0, fmt.Errorf("ошибка выполнения запроса на получение high-water mark: %w", err)
	}
	return uint8(mark), nil //nolint:gosec // high_water_mark не превышает MaxSlots
}

// Кастомная ошибка репозитория.
var (
	ErrSlotNotFound = errors.New("слот хранилища не найден")
)
