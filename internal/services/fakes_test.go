package services_test

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/repository"
	"github.com/stretchr/testify/mock"
)

// memoryVaultRepo хранит слоты в памяти. Транзакция игнорируется.
type memoryVaultRepo struct {
	slots map[common.Address]*[models.MaxSlots]models.Vault
	marks map[common.Address]uint8
}

var _ repository.VaultRepository = (*memoryVaultRepo)(nil)

func newMemoryVaultRepo() *memoryVaultRepo {
	return &memoryVaultRepo{
		slots: make(map[common.Address]*[models.MaxSlots]models.Vault),
		marks: make(map[common.Address]uint8),
	}
}

func (r *memoryVaultRepo) account(owner common.Address) *[models.MaxSlots]models.Vault {
	acc, ok := r.slots[owner]
	if !ok {
		acc = &[models.MaxSlots]models.Vault{}
		for i := range acc {
			acc[i] = *models.EmptyVault(owner, uint8(i)) //nolint:gosec // i < MaxSlots
		}
		r.slots[owner] = acc
	}
	return acc
}

func copyVault(v models.Vault) models.Vault {
	v.Amount = new(uint256.Int).Set(v.Amount)
	return v
}

func (r *memoryVaultRepo) LockAccount(_ context.Context, _ sqlx.ExtContext, owner common.Address) (uint8, error) {
	r.account(owner)
	return r.marks[owner], nil
}

func (r *memoryVaultRepo) GetSlots(
	_ context.Context,
	_ sqlx.ExtContext,
	owner common.Address,
) ([models.MaxSlots]models.Vault, error) {
	var result [models.MaxSlots]models.Vault
	for i, v := range r.account(owner) {
		result[i] = copyVault(v)
	}
	return result, nil
}

func (r *memoryVaultRepo) GetSlot(
	_ context.Context,
	_ sqlx.ExtContext,
	owner common.Address,
	slot uint8,
) (*models.Vault, error) {
	if slot >= models.MaxSlots {
		return models.EmptyVault(owner, slot), nil
	}
	v := copyVault(r.account(owner)[slot])
	return &v, nil
}

func (r *memoryVaultRepo) SaveSlot(_ context.Context, _ sqlx.ExtContext, vault *models.Vault) error {
	r.account(vault.Owner)[vault.Slot] = copyVault(*vault)
	return nil
}

func (r *memoryVaultRepo) CloseSlot(_ context.Context, _ sqlx.ExtContext, owner common.Address, slot uint8) error {
	if slot >= models.MaxSlots {
		return repository.ErrSlotNotFound
	}
	v := &r.account(owner)[slot]
	v.Active = false
	v.Amount = new(uint256.Int)
	return nil
}

func (r *memoryVaultRepo) TouchLastSeen(
	_ context.Context,
	_ sqlx.ExtContext,
	owner common.Address,
	slot uint8,
	lastSeen uint64,
) error {
	if slot >= models.MaxSlots {
		return repository.ErrSlotNotFound
	}
	r.account(owner)[slot].LastSeen = lastSeen
	return nil
}

func (r *memoryVaultRepo) SetHighWaterMark(_ context.Context, _ sqlx.ExtContext, owner common.Address, mark uint8) error {
	if mark > r.marks[owner] {
		r.marks[owner] = mark
	}
	return nil
}

func (r *memoryVaultRepo) GetHighWaterMark(_ context.Context, _ sqlx.ExtContext, owner common.Address) (uint8, error) {
	return r.marks[owner], nil
}

// MockVaultRepository - мок репозитория для проверки ошибок хранилища данных.
type MockVaultRepository struct {
	mock.Mock
}

func (m *MockVaultRepository) LockAccount(ctx context.Context, q sqlx.ExtContext, owner common.Address) (uint8, error) {
	args := m.Called(ctx, q, owner)
	return args.Get(0).(uint8), args.Error(1)
}

func (m *MockVaultRepository) GetSlots(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
) ([models.MaxSlots]models.Vault, error) {
	args := m.Called(ctx, q, owner)
	return args.Get(0).([models.MaxSlots]models.Vault), args.Error(1)
}

func (m *MockVaultRepository) GetSlot(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	slot uint8,
) (*models.Vault, error) {
	args := m.Called(ctx, q, owner, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vault), args.Error(1)
}

func (m *MockVaultRepository) SaveSlot(ctx context.Context, q sqlx.ExtContext, vault *models.Vault) error {
	args := m.Called(ctx, q, vault)
	return args.Error(0)
}

func (m *MockVaultRepository) CloseSlot(ctx context.Context, q sqlx.ExtContext, owner common.Address, slot uint8) error {
	args := m.Called(ctx, q, owner, slot)
	return args.Error(0)
}

func (m *MockVaultRepository) TouchLastSeen(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	slot uint8,
	lastSeen uint64,
) error {
	args := m.Called(ctx, q, owner, slot, lastSeen)
	return args.Error(0)
}

func (m *MockVaultRepository) SetHighWaterMark(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
	mark uint8,
) error {
	args := m.Called(ctx, q, owner, mark)
	return args.Error(0)
}

func (m *MockVaultRepository) GetHighWaterMark(
	ctx context.Context,
	q sqlx.ExtContext,
	owner common.Address,
) (uint8, error) {
	args := m.Called(ctx, q, owner)
	return args.Get(0).(uint8), args.Error(1)
}

// transferRecord - один выполненный перевод.
type transferRecord struct {
	To     common.Address
	Amount string
	Reason string
}

// fakeTransferer записывает переводы и может отказывать по адресу получателя.
type fakeTransferer struct {
	mu        sync.Mutex
	transfers []transferRecord
	failFor   map[common.Address]bool
	balances  map[common.Address]*uint256.Int
}

func newFakeTransferer() *fakeTransferer {
	return &fakeTransferer{
		failFor:  make(map[common.Address]bool),
		balances: make(map[common.Address]*uint256.Int),
	}
}

var errRecipientRejected = errors.New("получатель отклонил перевод")

func (f *fakeTransferer) Transfer(_ context.Context, to common.Address, amount *uint256.Int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return errRecipientRejected
	}
	f.transfers = append(f.transfers, transferRecord{To: to, Amount: amount.Dec(), Reason: reason})
	balance, ok := f.balances[to]
	if !ok {
		balance = new(uint256.Int)
		f.balances[to] = balance
	}
	balance.Add(balance, amount)
	return nil
}

func (f *fakeTransferer) Balance(_ context.Context, account common.Address) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[account]; ok {
		return new(uint256.Int).Set(balance), nil
	}
	return new(uint256.Int), nil
}

// fakeNotifier записывает опубликованные события.
type fakeNotifier struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (n *fakeNotifier) Publish(_ context.Context, event models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) types() []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]models.EventType, 0, len(n.events))
	for _, e := range n.events {
		result = append(result, e.Type)
	}
	return result
}
