package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/lifevault/internal/models"
)

// Коды ошибок и имена ограничений PostgreSQL.
const (
	pgUniqueViolationCode  = "23505"
	usersAccountConstraint = "users_account_key"
	selectUserColumns      = `SELECT id, username, password_hash, account, created_at, updated_at FROM users`
)

// UserRepository определяет методы для работы с данными пользователей в хранилище.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// GetUserByAccount находит пользователя, привязанного к адресу (в формате common.Address.Hex).
	GetUserByAccount(ctx context.Context, account string) (*models.User, error)
}

// postgresUserRepository реализует UserRepository для PostgreSQL.
type postgresUserRepository struct {
	db *sqlx.DB
}

// NewPostgresUserRepository создает новый экземпляр репозитория пользователей для PostgreSQL.
func NewPostgresUserRepository(db *sqlx.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

// CreateUser создает нового пользователя в базе данных.
// Возвращает ID созданного пользователя или ошибку.
func (r *postgresUserRepository) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	query := `INSERT INTO users (username, password_hash, account) VALUES ($1, $2, $3) RETURNING id`
	var userID int64

	err := r.db.QueryRowxContext(ctx, query, user.Username, user.PasswordHash, user.Account).Scan(&userID)
	if err != nil {
		// Проверяем на ошибку нарушения уникальности (duplicate key)
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			if pgErr.Constraint == usersAccountConstraint {
				log.Printf("[Repo] Ошибка создания пользователя '%s': аккаунт %s уже привязан", user.Username, user.Account)
				return 0, ErrAccountTaken
			}
			log.Printf("[Repo] Ошибка создания пользователя: имя пользователя '%s' уже занято", user.Username)
			return 0, ErrUsernameTaken // Возвращаем кастомную ошибку
		}
		log.Printf("[Repo] Непредвиденная ошибка при создании пользователя '%s': %v", user.Username, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на создание пользователя: %w", err)
	}

	log.Printf("[Repo] Пользователь '%s' (аккаунт %s) успешно создан с ID %d", user.Username, user.Account, userID)
	return userID, nil
}

// GetUserByUsername находит пользователя по его имени.
// Возвращает пользователя или ошибку, если пользователь не найден или произошла другая ошибка.
func (r *postgresUserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUser(ctx, "username", username)
}

// GetUserByAccount находит пользователя по адресу аккаунта.
func (r *postgresUserRepository) GetUserByAccount(ctx context.Context, account string) (*models.User, error) {
	return r.getUser(ctx, "account", account)
}

// getUser выбирает одного пользователя по значению уникальной колонки.
// column подставляется в запрос, поэтому передается только из кода.
func (r *postgresUserRepository) getUser(ctx context.Context, column, value string) (*models.User, error) {
	query := selectUserColumns + ` WHERE ` + column + `=$1`
	var user models.User

	err := r.db.GetContext(ctx, &user, query, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[Repo] Пользователь с %s '%s' не найден", column, value)
			return nil, ErrUserNotFound // Пользователь не найден
		}
		log.Printf("[Repo] Ошибка при поиске пользователя по %s '%s': %v", column, value, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение пользователя: %w", err)
	}

	log.Printf("[Repo] Найден пользователь '%s' (ID: %d, аккаунт %s)", user.Username, user.ID, user.Account)
	return &user, nil
}

// Кастомные ошибки репозитория.
var (
	ErrUserNotFound  = errors.New("пользователь не найден")
	ErrUsernameTaken = errors.New("имя пользователя уже занято")
	ErrAccountTaken  = errors.New("аккаунт уже привязан к другому пользователю")
)
