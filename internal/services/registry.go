package services

import "github.com/maynagashev/lifevault/internal/models"

// AllocateSlot возвращает наименьший свободный (неактивный) слот.
// Освобожденные слоты переиспользуются в порядке возрастания индекса.
func AllocateSlot(slots [models.MaxSlots]models.Vault) (uint8, error) {
	for i := range slots {
		if !slots[i].Active {
			return uint8(i), nil //nolint:gosec // i < MaxSlots
		}
	}
	return 0, ErrSlotsExhausted
}

// CountActive возвращает количество активных слотов.
func CountActive(slots [models.MaxSlots]models.Vault) uint8 {
	var count uint8
	for i := range slots {
		if slots[i].Active {
			count++
		}
	}
	return count
}
