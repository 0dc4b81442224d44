package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType - вид уведомления о событии хранилища.
type EventType string

const (
	EventVaultCreated  EventType = "vault_created"
	EventWithdrawn     EventType = "withdrawn"
	EventFeePaid       EventType = "fee_paid"
	EventPinged        EventType = "pinged"
	EventLegacyClaimed EventType = "legacy_claimed"
)

// Event - уведомление для внешних наблюдателей. Ядро их не читает.
// Суммы - десятичные строки, пустые поля опускаются.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Account   common.Address  `json:"account"`
	Slot      uint8           `json:"slot"`
	Kind      *VaultKind      `json:"kind,omitempty"`
	Amount    string          `json:"amount,omitempty"`
	Penalty   string          `json:"penalty,omitempty"`
	Recipient *common.Address `json:"recipient,omitempty"`
	Timestamp uint64          `json:"timestamp"`
	EmittedAt time.Time       `json:"emitted_at"`
}
