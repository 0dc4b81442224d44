// Package session хранит токен CLI между запусками.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o700
	lockSuffix      = ".lock"
)

// ErrNoSession - файл сессии отсутствует, вход не выполнялся.
var ErrNoSession = errors.New("сессия не найдена, выполните вход")

// ErrLocked - файл сессии занят другим процессом.
var ErrLocked = errors.New("файл сессии используется другим процессом")

// Session - сохраненное состояние CLI.
type Session struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Token     string `json:"token"`
}

// Store читает и записывает сессию в JSON файл.
// Запись и удаление выполняются под эксклюзивной блокировкой <path>.lock.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path возвращает путь к файлу сессии.
func (s *Store) Path() string {
	return s.path
}

// Load читает сессию. Если файла нет, возвращает ErrNoSession.
func (s *Store) Load() (Session, error) {
	var sess Session
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sess, ErrNoSession
		}
		return sess, fmt.Errorf("ошибка чтения файла сессии %s: %w", s.path, err)
	}
	if err = json.Unmarshal(data, &sess); err != nil {
		return sess, fmt.Errorf("поврежденный файл сессии %s: %w", s.path, err)
	}
	return sess, nil
}

// Save атомарно перезаписывает файл сессии.
func (s *Store) Save(sess Session) error {
	return s.withLock(func() error {
		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return fmt.Errorf("ошибка кодирования сессии: %w", err)
		}
		tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
		if err != nil {
			return fmt.Errorf("ошибка создания временного файла: %w", err)
		}
		tmpName := tmp.Name()
		defer os.Remove(tmpName) // После успешного Rename файла уже нет

		if err = tmp.Chmod(filePermissions); err != nil {
			tmp.Close()
			return fmt.Errorf("ошибка установки прав на файл сессии: %w", err)
		}
		if _, err = tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("ошибка записи сессии: %w", err)
		}
		if err = tmp.Close(); err != nil {
			return fmt.Errorf("ошибка закрытия временного файла: %w", err)
		}
		if err = os.Rename(tmpName, s.path); err != nil {
			return fmt.Errorf("ошибка сохранения файла сессии: %w", err)
		}
		slog.Debug("Сессия сохранена", "path", s.path, "username", sess.Username)
		return nil
	})
}

// Clear удаляет файл сессии. Отсутствие файла не считается ошибкой.
func (s *Store) Clear() error {
	return s.withLock(func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ошибка удаления файла сессии: %w", err)
		}
		slog.Debug("Сессия удалена", "path", s.path)
		return nil
	})
}

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPermissions); err != nil {
		return fmt.Errorf("ошибка создания директории сессии: %w", err)
	}
	lockPath := s.path + lockSuffix
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("ошибка блокировки файла %s: %w", lockPath, err)
	}
	if !locked {
		slog.Warn("Блокировка не получена (файл используется?)", "lockPath", lockPath)
		return ErrLocked
	}
	defer func() {
		if errUnlock := fileLock.Unlock(); errUnlock != nil {
			slog.Error("Ошибка при снятии блокировки файла", "lockPath", lockPath, "error", errUnlock)
		}
	}()
	return fn()
}
