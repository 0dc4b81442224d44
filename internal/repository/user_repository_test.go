package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgresUserRepository(t *testing.T) {
	// Можно передать nil, так как конструктор его просто сохраняет
	repo := repository.NewPostgresUserRepository(nil)
	assert.NotNil(t, repo)

	// Или с моком
	db, _, _ := sqlmock.New()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo = repository.NewPostgresUserRepository(sqlxDB)
	assert.NotNil(t, repo)
}

const testAccountHex = "0x00000000000000000000000000000000000000A1"

// Вспомогательная функция для создания мока БД и репозитория.
func setupUserRepoMock(t *testing.T) (repository.UserRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := repository.NewPostgresUserRepository(sqlxDB)
	return repo, mock
}

func TestCreateUser(t *testing.T) {
	tests := []struct {
		name        string
		user        *models.User
		mockSetup   func(mock sqlmock.Sqlmock, user *models.User)
		expectedID  int64
		expectedErr error
	}{
		{
			name: "Успешное создание",
			user: &models.User{Username: "newuser", PasswordHash: "hash123", Account: testAccountHex},
			mockSetup: func(mock sqlmock.Sqlmock, user *models.User) {
				rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(1))
				// Используем regexp.QuoteMeta для экранирования SQL запроса
				query := regexp.QuoteMeta(`INSERT INTO users (username, password_hash, account) VALUES ($1, $2, $3) RETURNING id`)
				mock.ExpectQuery(query).WithArgs(user.Username, user.PasswordHash, user.Account).WillReturnRows(rows)
			},
			expectedID:  1,
			expectedErr: nil,
		},
		{
			name: "Имя пользователя занято",
			user: &models.User{Username: "existinguser", PasswordHash: "hash456", Account: testAccountHex},
			mockSetup: func(mock sqlmock.Sqlmock, user *models.User) {
				query := regexp.QuoteMeta(`INSERT INTO users (username, password_hash, account) VALUES ($1, $2, $3) RETURNING id`)
				// Создаем ошибку PostgreSQL unique_violation, используя строковый код
				pqErr := &pq.Error{Code: "23505"} // Используем строковое значение
				mock.ExpectQuery(query).WithArgs(user.Username, user.PasswordHash, user.Account).WillReturnError(pqErr)
			},
			expectedID:  0,
			expectedErr: repository.ErrUsernameTaken,
		},
		{
			name: "Аккаунт уже привязан",
			user: &models.User{Username: "mallory", PasswordHash: "hash000", Account: testAccountHex},
			mockSetup: func(mock sqlmock.Sqlmock, user *models.User) {
				query := regexp.QuoteMeta(`INSERT INTO users (username, password_hash, account) VALUES ($1, $2, $3) RETURNING id`)
				pqErr := &pq.Error{Code: "23505", Constraint: "users_account_key"}
				mock.ExpectQuery(query).WithArgs(user.Username, user.PasswordHash, user.Account).WillReturnError(pqErr)
			},
			expectedID:  0,
			expectedErr: repository.ErrAccountTaken,
		},
		{
			name: "Ошибка базы данных",
			user: &models.User{Username: "erroruser", PasswordHash: "hash789", Account: testAccountHex},
			mockSetup: func(mock sqlmock.Sqlmock, user *models.User) {
				query := regexp.QuoteMeta(`INSERT INTO users (username, password_hash, account) VALUES ($1, $2, $3) RETURNING id`)
				dbErr := errors.New("database error")
				mock.ExpectQuery(query).WithArgs(user.Username, user.PasswordHash, user.Account).WillReturnError(dbErr)
			},
			expectedID:  0,
			expectedErr: errors.New("ошибка выполнения запроса"), // Ожидаем обернутую ошибку
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupUserRepoMock(t)
			tt.mockSetup(mock, tt.user)

			userID, err := repo.CreateUser(context.Background(), tt.user)

			assert.Equal(t, tt.expectedID, userID)
			if tt.expectedErr == nil {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				switch {
				case errors.Is(tt.expectedErr, repository.ErrUsernameTaken):
					assert.ErrorIs(t, err, repository.ErrUsernameTaken)
				case errors.Is(tt.expectedErr, repository.ErrAccountTaken):
					assert.ErrorIs(t, err, repository.ErrAccountTaken)
					assert.NotErrorIs(t, err, repository.ErrUsernameTaken)
				default:
					assert.Contains(t, err.Error(), "ошибка выполнения запроса")
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "Не все ожидания мока были выполнены")
		})
	}
}

const selectUserQuery = `SELECT id, username, password_hash, account, created_at, updated_at ` +
	`FROM users WHERE username=$1`

func TestGetUserByUsername(t *testing.T) {
	// Определяем тестового пользователя заранее
	now := time.Now()
	testUser := &models.User{
		ID:           1,
		Username:     "testuser",
		PasswordHash: "hash123",
		Account:      testAccountHex,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tests := []struct {
		name         string
		username     string
		mockSetup    func(mock sqlmock.Sqlmock, username string)
		expectedUser *models.User
		expectedErr  error
	}{
		{
			name:     "Успешный поиск",
			username: "testuser",
			mockSetup: func(mock sqlmock.Sqlmock, username string) {
				rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "account", "created_at", "updated_at"}).
					AddRow(testUser.ID, testUser.Username, testUser.PasswordHash, testUser.Account,
						testUser.CreatedAt, testUser.UpdatedAt)
				query := regexp.QuoteMeta(selectUserQuery)
				mock.ExpectQuery(query).WithArgs(username).WillReturnRows(rows)
			},
			expectedUser: testUser,
			expectedErr:  nil,
		},
		{
			name:     "Пользователь не найден",
			username: "notfounduser",
			mockSetup: func(mock sqlmock.Sqlmock, username string) {
				query := regexp.QuoteMeta(selectUserQuery)
				mock.ExpectQuery(query).WithArgs(username).WillReturnError(sql.ErrNoRows)
			},
			expectedUser: nil,
			expectedErr:  repository.ErrUserNotFound,
		},
		{
			name:     "Ошибка базы данных",
			username: "erroruser",
			mockSetup: func(mock sqlmock.Sqlmock, username string) {
				query := regexp.QuoteMeta(selectUserQuery)
				dbErr := errors.New("database error")
				mock.ExpectQuery(query).WithArgs(username).WillReturnError(dbErr)
			},
			expectedUser: nil,
			expectedErr:  errors.New("ошибка выполнения запроса"), // Ожидаем обернутую ошибку
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupUserRepoMock(t)
			tt.mockSetup(mock, tt.username)

			user, err := repo.GetUserByUsername(context.Background(), tt.username)

			assert.Equal(t, tt.expectedUser, user)

			if tt.expectedErr == nil {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				if errors.Is(tt.expectedErr, repository.ErrUserNotFound) {
					assert.ErrorIs(t, err, repository.ErrUserNotFound)
				} else {
					assert.Contains(t, err.Error(), "ошибка выполнения запроса")
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "Не все ожидания мока были выполнены")
		})
	}
}

func TestGetUserByAccount(t *testing.T) {
	query := regexp.QuoteMeta(`SELECT id, username, password_hash, account, created_at, updated_at ` +
		`FROM users WHERE account=$1`)

	t.Run("Успешный поиск", func(t *testing.T) {
		repo, mock := setupUserRepoMock(t)
		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "account", "created_at", "updated_at"}).
			AddRow(int64(7), "alice", "hash", testAccountHex, now, now)
		mock.ExpectQuery(query).WithArgs(testAccountHex).WillReturnRows(rows)

		user, err := repo.GetUserByAccount(context.Background(), testAccountHex)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, int64(7), user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Аккаунт свободен", func(t *testing.T) {
		repo, mock := setupUserRepoMock(t)
		mock.ExpectQuery(query).WithArgs(testAccountHex).WillReturnError(sql.ErrNoRows)

		user, err := repo.GetUserByAccount(context.Background(), testAccountHex)
		require.ErrorIs(t, err, repository.ErrUserNotFound)
		assert.Nil(t, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
