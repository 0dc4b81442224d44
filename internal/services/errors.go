package services

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ошибки бизнес-правил хранилищ. Все они окончательные, повторять операцию бессмысленно.
var (
	ErrSlotsExhausted   = errors.New("все 5 слотов хранилищ заняты")
	ErrZeroDeposit      = errors.New("сумма депозита должна быть больше нуля")
	ErrInvalidKind      = errors.New("неизвестный тип хранилища")
	ErrZeroBeneficiary  = errors.New("для хранилища DeadManSwitch нужен ненулевой адрес бенефициара")
	ErrVaultInactive    = errors.New("хранилище неактивно")
	ErrWrongKind        = errors.New("операция не применима к хранилищу этого типа")
	ErrNotBeneficiary   = errors.New("вызывающий не является бенефициаром хранилища")
	ErrOwnerStillActive = errors.New("владелец еще активен")
	// ErrTransferFailed означает, что хранилище уже закрыто, но перевод средств не выполнен.
	ErrTransferFailed = errors.New("перевод средств не выполнен")
)

// TransferError описывает неудавшийся перевод после фиксации состояния хранилища.
type TransferError struct {
	Recipient common.Address
	Amount    *uint256.Int
	Reason    string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%v: %s на %s (%s), хранилище уже закрыто: %v",
		ErrTransferFailed, e.Amount.Dec(), e.Recipient.Hex(), e.Reason, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailed, e.Err}
}
