// Package events записывает уведомления о событиях хранилищ в объектное хранилище.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/storage"
)

const (
	keyPrefix   = "events/"
	contentType = "application/json"
	// DefaultListLimit - сколько событий отдается, если лимит не задан.
	DefaultListLimit = 50
)

// Journal публикует события как JSON-объекты в бакете журнала.
type Journal struct {
	storage storage.FileStorage

	mu        sync.Mutex
	lastNanos int64 // EmittedAt последнего события, для строго возрастающих ключей
}

// NewJournal создает журнал поверх объектного хранилища.
func NewJournal(fs storage.FileStorage) *Journal {
	return &Journal{storage: fs}
}

// AccountPrefix возвращает префикс ключей событий аккаунта.
func AccountPrefix(account common.Address) string {
	return keyPrefix + account.Hex() + "/"
}

// ObjectKey возвращает ключ объекта события.
// Время операции и время записи в наносекундах дополняются нулями, поэтому
// лексикографический порядок ключей совпадает с порядком публикации,
// в том числе для событий одной секунды.
func ObjectKey(event models.Event) string {
	var emitted int64
	if !event.EmittedAt.IsZero() {
		emitted = event.EmittedAt.UnixNano()
	}
	return fmt.Sprintf("%s%020d-%020d-%s-%s.json",
		AccountPrefix(event.Account), event.Timestamp, emitted, event.Type, event.ID)
}

// Publish сохраняет событие. Пустой ID заменяется новым UUID.
// EmittedAt сдвигается так, чтобы строго возрастать между вызовами.
func (j *Journal) Publish(ctx context.Context, event models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.EmittedAt = j.nextEmittedAt(event.EmittedAt)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	key := ObjectKey(event)
	if err = j.storage.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		log.Printf("[Events] Ошибка записи события %s: %v", key, err)
		return fmt.Errorf("ошибка записи события в журнал: %w", err)
	}
	return nil
}

// List возвращает до limit последних событий аккаунта, от новых к старым.
func (j *Journal) List(ctx context.Context, account common.Address, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	keys, err := j.storage.ListFiles(ctx, AccountPrefix(account))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала событий: %w", err)
	}

	result := make([]models.Event, 0, min(limit, len(keys)))
	for i := len(keys) - 1; i >= 0 && len(result) < limit; i-- {
		event, readErr := j.read(ctx, keys[i])
		if errors.Is(readErr, storage.ErrObjectNotFound) {
			continue // Удален между листингом и чтением
		}
		if readErr != nil {
			return nil, readErr
		}
		result = append(result, event)
	}
	return result, nil
}

// nextEmittedAt возвращает at (или текущее время, если at пустое),
// но не раньше чем через наносекунду после предыдущего события.
func (j *Journal) nextEmittedAt(at time.Time) time.Time {
	if at.IsZero() {
		at = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	nanos := at.UnixNano()
	if nanos <= j.lastNanos {
		nanos = j.lastNanos + 1
	}
	j.lastNanos = nanos
	return time.Unix(0, nanos).UTC()
}

func (j *Journal) read(ctx context.Context, key string) (models.Event, error) {
	var event models.Event
	body, err := j.storage.DownloadFile(ctx, key)
	if err != nil {
		return event, err
	}
	defer body.Close()

	if err = json.NewDecoder(body).Decode(&event); err != nil {
		log.Printf("[Events] Поврежденная запись журнала %s: %v", key, err)
		return event, fmt.Errorf("ошибка разбора события %s: %w", key, err)
	}
	return event, nil
}
