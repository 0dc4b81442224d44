package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/repository"
)

// Назначения переводов, сохраняемые в реестре выплат.
const (
	ReasonWithdraw = "withdraw"
	ReasonFee      = "fee"
	ReasonClaim    = "legacy_claim"
)

// VaultService определяет интерфейс для сервиса работы с хранилищами.
// Идентичность вызывающего передается явно: ее предоставляет слой аутентификации.
type VaultService interface {
	CreateVault(
		ctx context.Context,
		owner common.Address,
		kind models.VaultKind,
		schedule uint64,
		beneficiary common.Address,
		deposit *uint256.Int,
	) (uint8, error)
	Withdraw(ctx context.Context, owner common.Address, slot uint8) (*models.WithdrawResult, error)
	Ping(ctx context.Context, owner common.Address, slot uint8) (uint64, error)
	ClaimLegacy(ctx context.Context, caller, owner common.Address, slot uint8) (*models.ClaimResult, error)
	GetVaultData(ctx context.Context, account common.Address, slot uint8) (*models.VaultData, error)
	ListVaults(ctx context.Context, account common.Address) ([]models.VaultData, error)
	GetVaultCount(ctx context.Context, account common.Address) (uint8, error)
	GetVaultStats(ctx context.Context, account common.Address) (*models.VaultStats, error)
	GetBalance(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// Transferer переводит средства на аккаунт и сообщает об ошибке перевода.
type Transferer interface {
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int, reason string) error
	Balance(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// Notifier доставляет уведомления внешним наблюдателям.
type Notifier interface {
	Publish(ctx context.Context, event models.Event) error
}

var _ VaultService = (*vaultService)(nil) // Проверка соответствия интерфейсу

type vaultService struct {
	db           *sqlx.DB
	vaultRepo    repository.VaultRepository
	transferer   Transferer
	notifier     Notifier
	clock        Clock
	feeRecipient common.Address // Нулевой адрес - комиссия отключена
}

// NewVaultService создает новый экземпляр сервиса хранилищ.
func NewVaultService(
	db *sqlx.DB,
	vaultRepo repository.VaultRepository,
	transferer Transferer,
	notifier Notifier,
	clock Clock,
	feeRecipient common.Address,
) VaultService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &vaultService{
		db:           db,
		vaultRepo:    vaultRepo,
		transferer:   transferer,
		notifier:     notifier,
		clock:        clock,
		feeRecipient: feeRecipient,
	}
}

// inAccountTx выполняет fn в транзакции, удерживающей блокировку записи аккаунта.
// Любая ошибка fn откатывает транзакцию целиком.
func (s *vaultService) inAccountTx(
	ctx context.Context,
	owner common.Address,
	fn func(tx *sqlx.Tx, highWaterMark uint8) error,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("[VaultService] Ошибка отката транзакции для %s: %v", owner.Hex(), rbErr)
		}
	}()

	mark, err := s.vaultRepo.LockAccount(ctx, tx, owner)
	if err != nil {
		return err
	}
	if err = fn(tx, mark); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// CreateVault создает хранилище в наименьшем свободном слоте.
// Депозит считается уже зачисленным хостом, перевода средств здесь нет.
func (s *vaultService) CreateVault(
	ctx context.Context,
	owner common.Address,
	kind models.VaultKind,
	schedule uint64,
	beneficiary common.Address,
	deposit *uint256.Int,
) (uint8, error) {
	if !kind.IsValid() {
		return 0, ErrInvalidKind
	}
	// Нулевой депозит отклоняется всегда, даже если свободных слотов нет.
	if deposit == nil || deposit.IsZero() {
		log.Printf("[VaultService] Попытка создать хранилище без депозита: %s", owner.Hex())
		return 0, ErrZeroDeposit
	}
	// Средства с нулевым бенефициаром нельзя было бы ни получить, ни перевести.
	if kind == models.VaultKindDeadManSwitch && beneficiary == (common.Address{}) {
		log.Printf("[VaultService] Попытка создать DeadManSwitch без бенефициара: %s", owner.Hex())
		return 0, ErrZeroBeneficiary
	}

	var (
		slot uint8
		now  uint64
	)
	err := s.inAccountTx(ctx, owner, func(tx *sqlx.Tx, mark uint8) error {
		slots, err := s.vaultRepo.GetSlots(ctx, tx, owner)
		if err != nil {
			return err
		}
		slot, err = AllocateSlot(slots)
		if err != nil {
			return err
		}

		now = s.clock.Now()
		vault := &models.Vault{
			Owner:       owner,
			Slot:        slot,
			Active:      true,
			Kind:        kind,
			Amount:      new(uint256.Int).Set(deposit),
			Schedule:    schedule,
			Beneficiary: beneficiary,
		}
		if kind == models.VaultKindDeadManSwitch {
			vault.LastSeen = now
		}
		if err = s.vaultRepo.SaveSlot(ctx, tx, vault); err != nil {
			return err
		}

		if slot >= mark {
			return s.vaultRepo.SetHighWaterMark(ctx, tx, owner, slot+1)
		}
		return nil
	})
	if err != nil {
		log.Printf("[VaultService] Не удалось создать хранилище для %s: %v", owner.Hex(), err)
		return 0, err
	}

	log.Printf("[VaultService] Создано хранилище %s в слоте %d для %s, сумма %s",
		kind, slot, owner.Hex(), deposit.Dec())
	s.publish(ctx, models.Event{
		Type:      models.EventVaultCreated,
		Account:   owner,
		Slot:      slot,
		Kind:      &kind,
		Amount:    deposit.Dec(),
		Timestamp: now,
	})
	return slot, nil
}

// Withdraw выводит средства из TimeLocked хранилища с учетом штрафа за досрочный вывод.
// Хранилище закрывается и фиксируется до любых переводов.
func (s *vaultService) Withdraw(
	ctx context.Context,
	owner common.Address,
	slot uint8,
) (*models.WithdrawResult, error) {
	var (
		result *models.WithdrawResult
		now    uint64
	)
	err := s.inAccountTx(ctx, owner, func(tx *sqlx.Tx, _ uint8) error {
		vault, err := s.vaultRepo.GetSlot(ctx, tx, owner, slot)
		if err != nil {
			return err
		}
		if !vault.Active {
			return ErrVaultInactive
		}
		if vault.Kind != models.VaultKindTimeLocked {
			return ErrWrongKind
		}

		now = s.clock.Now()
		payout, penalty := CalculatePenalty(vault.Amount, vault.Schedule, now)
		if err = s.vaultRepo.CloseSlot(ctx, tx, owner, slot); err != nil {
			return err
		}
		result = &models.WithdrawResult{
			Slot:         slot,
			Payout:       payout,
			Penalty:      penalty,
			FeeRecipient: s.feeRecipient,
		}
		return nil
	})
	if err != nil {
		log.Printf("[VaultService] Вывод из слота %d для %s отклонен: %v", slot, owner.Hex(), err)
		return nil, err
	}

	log.Printf("[VaultService] Слот %d аккаунта %s закрыт: выплата %s, штраф %s",
		slot, owner.Hex(), result.Payout.Dec(), result.Penalty.Dec())

	var errs []error
	if !result.Payout.IsZero() {
		if tErr := s.transfer(ctx, owner, result.Payout, ReasonWithdraw); tErr != nil {
			errs = append(errs, tErr)
		}
	}
	if !result.Penalty.IsZero() && s.feeRecipient != (common.Address{}) {
		if tErr := s.transfer(ctx, s.feeRecipient, result.Penalty, ReasonFee); tErr != nil {
			errs = append(errs, tErr)
		} else {
			recipient := s.feeRecipient
			s.publish(ctx, models.Event{
				Type:      models.EventFeePaid,
				Account:   owner,
				Slot:      slot,
				Amount:    result.Penalty.Dec(),
				Recipient: &recipient,
				Timestamp: now,
			})
		}
	}
	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}

	s.publish(ctx, models.Event{
		Type:      models.EventWithdrawn,
		Account:   owner,
		Slot:      slot,
		Amount:    result.Payout.Dec(),
		Penalty:   result.Penalty.Dec(),
		Timestamp: now,
	})
	return result, nil
}

// Ping обновляет время последней активности владельца DeadManSwitch хранилища.
func (s *vaultService) Ping(ctx context.Context, owner common.Address, slot uint8) (uint64, error) {
	var now uint64
	err := s.inAccountTx(ctx, owner, func(tx *sqlx.Tx, _ uint8) error {
		vault, err := s.vaultRepo.GetSlot(ctx, tx, owner, slot)
		if err != nil {
			return err
		}
		if !vault.Active {
			return ErrVaultInactive
		}
		if vault.Kind != models.VaultKindDeadManSwitch {
			return ErrWrongKind
		}
		now = s.clock.Now()
		return s.vaultRepo.TouchLastSeen(ctx, tx, owner, slot, now)
	})
	if err != nil {
		log.Printf("[VaultService] Ping слота %d для %s отклонен: %v", slot, owner.Hex(), err)
		return 0, err
	}

	log.Printf("[VaultService] Ping слота %d для %s: last_seen=%d", slot, owner.Hex(), now)
	s.publish(ctx, models.Event{
		Type:      models.EventPinged,
		Account:   owner,
		Slot:      slot,
		Timestamp: now,
	})
	return now, nil
}

// ClaimLegacy переводит все средства DeadManSwitch хранилища бенефициару,
// если владелец не подавал признаков активности дольше окна неактивности.
// Авторизация - сравнение вызывающего с сохраненным бенефициаром.
func (s *vaultService) ClaimLegacy(
	ctx context.Context,
	caller, owner common.Address,
	slot uint8,
) (*models.ClaimResult, error) {
	var (
		result *models.ClaimResult
		now    uint64
	)
	err := s.inAccountTx(ctx, owner, func(tx *sqlx.Tx, _ uint8) error {
		vault, err := s.vaultRepo.GetSlot(ctx, tx, owner, slot)
		if err != nil {
			return err
		}
		if !vault.Active {
			return ErrVaultInactive
		}
		if vault.Kind != models.VaultKindDeadManSwitch {
			return ErrWrongKind
		}
		if caller != vault.Beneficiary {
			return ErrNotBeneficiary
		}
		now = s.clock.Now()
		if now < inactivityDeadline(vault.LastSeen, vault.Schedule) {
			return ErrOwnerStillActive
		}

		if err = s.vaultRepo.CloseSlot(ctx, tx, owner, slot); err != nil {
			return err
		}
		result = &models.ClaimResult{
			Owner:       owner,
			Slot:        slot,
			Beneficiary: vault.Beneficiary,
			Amount:      new(uint256.Int).Set(vault.Amount),
		}
		return nil
	})
	if err != nil {
		log.Printf("[VaultService] Claim слота %d аккаунта %s от %s отклонен: %v",
			slot, owner.Hex(), caller.Hex(), err)
		return nil, err
	}

	log.Printf("[VaultService] Слот %d аккаунта %s закрыт бенефициаром %s, сумма %s",
		slot, owner.Hex(), caller.Hex(), result.Amount.Dec())

	if tErr := s.transfer(ctx, result.Beneficiary, result.Amount, ReasonClaim); tErr != nil {
		return result, tErr
	}

	beneficiary := result.Beneficiary
	s.publish(ctx, models.Event{
		Type:      models.EventLegacyClaimed,
		Account:   owner,
		Slot:      slot,
		Amount:    result.Amount.Dec(),
		Recipient: &beneficiary,
		Timestamp: now,
	})
	return result, nil
}

// inactivityDeadline возвращает момент, начиная с которого бенефициар может забрать средства.
// При переполнении окно никогда не истекает.
func inactivityDeadline(lastSeen, schedule uint64) uint64 {
	if schedule > math.MaxUint64-lastSeen {
		return math.MaxUint64
	}
	return lastSeen + schedule
}

// GetVaultData возвращает данные слота. Несозданный слот возвращается с нулевыми полями.
func (s *vaultService) GetVaultData(
	ctx context.Context,
	account common.Address,
	slot uint8,
) (*models.VaultData, error) {
	vault, err := s.vaultRepo.GetSlot(ctx, s.db, account, slot)
	if err != nil {
		log.Printf("[VaultService] Ошибка получения слота %d аккаунта %s: %v", slot, account.Hex(), err)
		return nil, fmt.Errorf("ошибка получения данных хранилища: %w", err)
	}
	data := vault.Data()
	return &data, nil
}

// ListVaults возвращает все пять слотов аккаунта по порядку.
func (s *vaultService) ListVaults(ctx context.Context, account common.Address) ([]models.VaultData, error) {
	slots, err := s.vaultRepo.GetSlots(ctx, s.db, account)
	if err != nil {
		log.Printf("[VaultService] Ошибка получения слотов аккаунта %s: %v", account.Hex(), err)
		return nil, fmt.Errorf("ошибка получения списка хранилищ: %w", err)
	}
	result := make([]models.VaultData, 0, models.MaxSlots)
	for i := range slots {
		result = append(result, slots[i].Data())
	}
	return result, nil
}

// GetVaultCount возвращает количество активных слотов (живая занятость, не high-water mark).
func (s *vaultService) GetVaultCount(ctx context.Context, account common.Address) (uint8, error) {
	slots, err := s.vaultRepo.GetSlots(ctx, s.db, account)
	if err != nil {
		log.Printf("[VaultService] Ошибка подсчета слотов аккаунта %s: %v", account.Hex(), err)
		return 0, fmt.Errorf("ошибка подсчета хранилищ: %w", err)
	}
	return CountActive(slots), nil
}

// GetVaultStats возвращает живую занятость вместе с историческим максимумом.
func (s *vaultService) GetVaultStats(ctx context.Context, account common.Address) (*models.VaultStats, error) {
	count, err := s.GetVaultCount(ctx, account)
	if err != nil {
		return nil, err
	}
	mark, err := s.vaultRepo.GetHighWaterMark(ctx, s.db, account)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики хранилищ: %w", err)
	}
	return &models.VaultStats{Active: count, HighWaterMark: mark}, nil
}

// GetBalance возвращает накопленные выплаты аккаунта.
func (s *vaultService) GetBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	balance, err := s.transferer.Balance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return balance, nil
}

func (s *vaultService) transfer(ctx context.Context, to common.Address, amount *uint256.Int, reason string) error {
	if err := s.transferer.Transfer(ctx, to, amount, reason); err != nil {
		log.Printf("[VaultService] Перевод %s на %s (%s) не выполнен: %v", amount.Dec(), to.Hex(), reason, err)
		return &TransferError{Recipient: to, Amount: amount, Reason: reason, Err: err}
	}
	return nil
}

// publish отправляет уведомление. Ошибка доставки не влияет на результат операции.
func (s *vaultService) publish(ctx context.Context, event models.Event) {
	if s.notifier == nil {
		return
	}
	event.EmittedAt = time.Now().UTC()
	if err := s.notifier.Publish(ctx, event); err != nil {
		log.Printf("[VaultService] Не удалось отправить уведомление %s для %s: %v",
			event.Type, event.Account.Hex(), err)
	}
}
