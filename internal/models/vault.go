package models

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxSlots - количество слотов хранилищ на один аккаунт (индексы 0..4).
const MaxSlots = 5

// VaultKind определяет тип хранилища. Задается при создании и больше не меняется.
type VaultKind uint8

const (
	// VaultKindTimeLocked - хранилище с блокировкой по времени и штрафом за досрочный вывод.
	VaultKindTimeLocked VaultKind = 0
	// VaultKindDeadManSwitch - хранилище, которое переходит бенефициару при неактивности владельца.
	VaultKindDeadManSwitch VaultKind = 1
)

// IsValid сообщает, известен ли тип хранилища.
func (k VaultKind) IsValid() bool {
	return k == VaultKindTimeLocked || k == VaultKindDeadManSwitch
}

func (k VaultKind) String() string {
	switch k {
	case VaultKindTimeLocked:
		return "time_locked"
	case VaultKindDeadManSwitch:
		return "dead_man_switch"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Vault представляет один слот хранилища аккаунта.
// Идентифицируется парой (Owner, Slot).
//
// Schedule для TimeLocked - абсолютное время разблокировки (unix, секунды),
// для DeadManSwitch - допустимая длительность неактивности в секундах.
// LastSeen имеет смысл только для DeadManSwitch.
type Vault struct {
	Owner       common.Address
	Slot        uint8
	Active      bool
	Kind        VaultKind
	Amount      *uint256.Int
	Schedule    uint64
	LastSeen    uint64
	Beneficiary common.Address
}

// EmptyVault возвращает слот, который никогда не создавался.
func EmptyVault(owner common.Address, slot uint8) *Vault {
	return &Vault{
		Owner:  owner,
		Slot:   slot,
		Amount: new(uint256.Int),
	}
}

// Data возвращает представление слота для чтения.
func (v *Vault) Data() VaultData {
	amount := new(uint256.Int)
	if v.Amount != nil {
		amount.Set(v.Amount)
	}
	return VaultData{
		Slot:        v.Slot,
		Active:      v.Active,
		Kind:        v.Kind,
		Amount:      amount,
		Schedule:    v.Schedule,
		LastSeen:    v.LastSeen,
		Beneficiary: v.Beneficiary,
	}
}

// VaultData - данные слота, отдаваемые наружу.
// Для несозданного слота все поля нулевые, отдельной ошибки "не найдено" нет.
type VaultData struct {
	Slot        uint8
	Active      bool
	Kind        VaultKind
	Amount      *uint256.Int
	Schedule    uint64
	LastSeen    uint64
	Beneficiary common.Address
}

// JSON-представление VaultData: сумма передается десятичной строкой.
type vaultDataJSON struct {
	Slot        uint8          `json:"slot"`
	Active      bool           `json:"active"`
	Kind        VaultKind      `json:"kind"`
	Amount      string         `json:"amount"`
	Schedule    uint64         `json:"schedule"`
	LastSeen    uint64         `json:"last_seen"`
	Beneficiary common.Address `json:"beneficiary"`
}

func (d VaultData) MarshalJSON() ([]byte, error) {
	return json.Marshal(&vaultDataJSON{
		Slot:        d.Slot,
		Active:      d.Active,
		Kind:        d.Kind,
		Amount:      decimalString(d.Amount),
		Schedule:    d.Schedule,
		LastSeen:    d.LastSeen,
		Beneficiary: d.Beneficiary,
	})
}

func (d *VaultData) UnmarshalJSON(data []byte) error {
	var aux vaultDataJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	amount, err := ParseAmount(aux.Amount)
	if err != nil {
		return err
	}
	d.Slot = aux.Slot
	d.Active = aux.Active
	d.Kind = aux.Kind
	d.Amount = amount
	d.Schedule = aux.Schedule
	d.LastSeen = aux.LastSeen
	d.Beneficiary = aux.Beneficiary
	return nil
}

// VaultStats - живая занятость слотов и исторический максимум.
// HighWaterMark никогда не уменьшается и не участвует в выделении слотов.
type VaultStats struct {
	Active        uint8 `json:"active"`
	HighWaterMark uint8 `json:"high_water_mark"`
}

// WithdrawResult - итог планового вывода средств из TimeLocked хранилища.
type WithdrawResult struct {
	Slot         uint8
	Payout       *uint256.Int
	Penalty      *uint256.Int
	FeeRecipient common.Address // Нулевой адрес, если комиссия отключена
}

// ClaimResult - итог получения средств бенефициаром.
type ClaimResult struct {
	Owner       common.Address
	Slot        uint8
	Beneficiary common.Address
	Amount      *uint256.Int
}

// ParseAmount разбирает десятичную строку в 256-битное число. Пустая строка - ноль.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("неверный формат суммы '%s': %w", s, err)
	}
	return amount, nil
}

func decimalString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
