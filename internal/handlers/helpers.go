package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// validate разделяется всеми обработчиками: validator кэширует разобранные структуры.
var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	errBadSlot    = errors.New("неверный номер слота")
	errBadAccount = errors.New("неверный адрес аккаунта")
)

// decodeAndValidate читает JSON тело запроса в dst и проверяет теги validate.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("неверный формат запроса: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			fields := make([]string, 0, len(vErrs))
			for _, fe := range vErrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return fmt.Errorf("неверные параметры запроса (%s)", strings.Join(fields, ", "))
		}
		return fmt.Errorf("неверные параметры запроса: %w", err)
	}
	return nil
}

// slotParam разбирает параметр пути {slot}. Допустим любой uint8:
// слоты вне 0..4 ведут себя как несозданные.
func slotParam(r *http.Request) (uint8, error) {
	slot, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 8)
	if err != nil {
		return 0, errBadSlot
	}
	return uint8(slot), nil
}

// accountParam разбирает параметр пути {account}.
func accountParam(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		return common.Address{}, errBadAccount
	}
	return common.HexToAddress(raw), nil
}

// writeJSON отправляет v со статусом status.
func writeJSON(w http.ResponseWriter, op string, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[%s] Ошибка кодирования ответа: %v", op, err)
	}
}
