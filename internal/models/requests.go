package models

// CreateVaultRequest - тело запроса на создание хранилища.
// Deposit - сумма депозита десятичной строкой (уже зачисленная хостом).
type CreateVaultRequest struct {
	Kind        uint8  `json:"kind" validate:"oneof=0 1"`
	Schedule    uint64 `json:"schedule"`
	Beneficiary string `json:"beneficiary" validate:"omitempty,eth_addr"`
	Deposit     string `json:"deposit" validate:"required,number"`
}

// CreateVaultResponse - номер выделенного слота.
type CreateVaultResponse struct {
	Slot uint8 `json:"slot"`
}

// WithdrawResponse - выплата владельцу и удержанный штраф.
type WithdrawResponse struct {
	Slot    uint8  `json:"slot"`
	Payout  string `json:"payout"`
	Penalty string `json:"penalty"`
}

// PingResponse - новое значение last_seen.
type PingResponse struct {
	Slot     uint8  `json:"slot"`
	LastSeen uint64 `json:"last_seen"`
}

// ClaimRequest - запрос бенефициара на получение средств.
type ClaimRequest struct {
	Owner string `json:"owner" validate:"required,eth_addr"`
	Slot  *uint8 `json:"slot" validate:"required"`
}

// ClaimResponse - переведенная бенефициару сумма.
type ClaimResponse struct {
	Owner  string `json:"owner"`
	Slot   uint8  `json:"slot"`
	Amount string `json:"amount"`
}

// CountResponse - количество активных слотов.
type CountResponse struct {
	Count uint8 `json:"count"`
}

// BalanceResponse - баланс аккаунта в реестре выплат.
type BalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}
