package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/maynagashev/lifevault/internal/middleware"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/services"
)

// maxEventsLimit ограничивает размер страницы журнала событий.
const maxEventsLimit = 200

// EventLister читает журнал событий аккаунта.
type EventLister interface {
	List(ctx context.Context, account common.Address, limit int) ([]models.Event, error)
}

// VaultHandler обрабатывает HTTP-запросы, связанные с хранилищами.
type VaultHandler struct {
	vaultService services.VaultService
	events       EventLister // nil, если журнал не настроен
}

// NewVaultHandler создает новый экземпляр VaultHandler.
func NewVaultHandler(vs services.VaultService, events EventLister) *VaultHandler {
	return &VaultHandler{vaultService: vs, events: events}
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrTransferFailed):
		log.Printf("[%s] Хранилище закрыто, но перевод не выполнен: %v", op, err)
		http.Error(w, "Хранилище закрыто, но перевод средств не выполнен", http.StatusBadGateway)
	case errors.Is(err, services.ErrSlotsExhausted), errors.Is(err, services.ErrOwnerStillActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrZeroDeposit), errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrZeroBeneficiary):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrVaultInactive):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrWrongKind):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrNotBeneficiary):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Printf("[%s] Внутренняя ошибка: %v", op, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

// caller возвращает аккаунт из контекста или пишет 500, если middleware не отработал.
func caller(w http.ResponseWriter, r *http.Request, op string) (common.Address, bool) {
	account, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		log.Printf("[%s] Не удалось получить аккаунт из контекста", op)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
	return account, ok
}

// Create обрабатывает POST запрос на создание хранилища.
func (h *VaultHandler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:Create"
	owner, ok := caller(w, r, op)
	if !ok {
		return
	}

	var req models.CreateVaultRequest
	if err := decodeAndValidate(r, &req); err != nil {
		log.Printf("[%s] Неверный запрос от %s: %v", op, owner.Hex(), err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	deposit, err := models.ParseAmount(req.Deposit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var beneficiary common.Address
	if req.Beneficiary != "" {
		beneficiary = common.HexToAddress(req.Beneficiary)
	}

	log.Printf("[%s] Запрос на создание хранилища типа %d от %s", op, req.Kind, owner.Hex())

	slot, err := h.vaultService.CreateVault(
		r.Context(), owner, models.VaultKind(req.Kind), req.Schedule, beneficiary, deposit)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusCreated, models.CreateVaultResponse{Slot: slot})
}

// List обрабатывает GET запрос на получение всех слотов вызывающего.
func (h *VaultHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:List"
	owner, ok := caller(w, r, op)
	if !ok {
		return
	}

	vaults, err := h.vaultService.ListVaults(r.Context(), owner)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, vaults)
}

// Withdraw обрабатывает POST запрос на вывод средств из TimeLocked хранилища.
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:Withdraw"
	owner, ok := caller(w, r, op)
	if !ok {
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("[%s] Запрос на вывод из слота %d от %s", op, slot, owner.Hex())

	result, err := h.vaultService.Withdraw(r.Context(), owner, slot)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, models.WithdrawResponse{
		Slot:    result.Slot,
		Payout:  result.Payout.Dec(),
		Penalty: result.Penalty.Dec(),
	})
}

// Ping обрабатывает POST запрос на подтверждение активности владельца.
func (h *VaultHandler) Ping(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:Ping"
	owner, ok := caller(w, r, op)
	if !ok {
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lastSeen, err := h.vaultService.Ping(r.Context(), owner, slot)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, models.PingResponse{Slot: slot, LastSeen: lastSeen})
}

// Claim обрабатывает POST запрос бенефициара на получение средств.
func (h *VaultHandler) Claim(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:Claim"
	beneficiary, ok := caller(w, r, op)
	if !ok {
		return
	}

	var req models.ClaimRequest
	if err := decodeAndValidate(r, &req); err != nil {
		log.Printf("[%s] Неверный запрос от %s: %v", op, beneficiary.Hex(), err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	owner := common.HexToAddress(req.Owner)

	log.Printf("[%s] Запрос от %s на слот %d аккаунта %s", op, beneficiary.Hex(), *req.Slot, owner.Hex())

	result, err := h.vaultService.ClaimLegacy(r.Context(), beneficiary, owner, *req.Slot)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, models.ClaimResponse{
		Owner:  result.Owner.Hex(),
		Slot:   result.Slot,
		Amount: result.Amount.Dec(),
	})
}

// GetVaultData обрабатывает GET запрос на чтение слота любого аккаунта.
func (h *VaultHandler) GetVaultData(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:GetVaultData"
	account, err := accountParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.vaultService.GetVaultData(r.Context(), account, slot)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, data)
}

// GetVaultCount обрабатывает GET запрос на количество активных слотов аккаунта.
func (h *VaultHandler) GetVaultCount(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:GetVaultCount"
	account, err := accountParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	count, err := h.vaultService.GetVaultCount(r.Context(), account)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, models.CountResponse{Count: count})
}

// GetVaultStats обрабатывает GET запрос на статистику слотов аккаунта.
func (h *VaultHandler) GetVaultStats(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:GetVaultStats"
	account, err := accountParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.vaultService.GetVaultStats(r.Context(), account)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, stats)
}

// GetBalance обрабатывает GET запрос на баланс вызывающего в реестре выплат.
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:GetBalance"
	account, ok := caller(w, r, op)
	if !ok {
		return
	}

	balance, err := h.vaultService.GetBalance(r.Context(), account)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, op, http.StatusOK, models.BalanceResponse{Account: account.Hex(), Balance: balance.Dec()})
}

// ListEvents обрабатывает GET запрос на журнал событий вызывающего.
func (h *VaultHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	const op = "VaultHandler:ListEvents"
	account, ok := caller(w, r, op)
	if !ok {
		return
	}
	if h.events == nil {
		http.Error(w, "Журнал событий не настроен", http.StatusServiceUnavailable)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxEventsLimit {
		limit = 0 // Значение по умолчанию журнала
	}

	list, err := h.events.List(r.Context(), account, limit)
	if err != nil {
		log.Printf("[%s] Ошибка чтения журнала %s: %v", op, account.Hex(), err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	writeJSON(w, op, http.StatusOK, list)
}
