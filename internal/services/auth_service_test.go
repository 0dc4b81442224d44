package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/ownership"
	"github.com/maynagashev/lifevault/internal/repository"
	"github.com/maynagashev/lifevault/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testJWTSecret = []byte("test-secret")

// MockUserRepository is a mock for UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	args := m.Called(ctx, user)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUserRepository) GetUserByAccount(ctx context.Context, account string) (*models.User, error) {
	args := m.Called(ctx, account)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.User), args.Error(1)
}

func TestNewAuthService(t *testing.T) {
	mockUserRepo := new(MockUserRepository)

	authService := services.NewAuthService(mockUserRepo, testJWTSecret)

	require.NotNil(t, authService)
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	username := "testuser"
	password := "password123"
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account, signature, err := ownership.Sign(key, username)
	require.NoError(t, err)

	tests := []struct {
		name          string
		mockSetup     func(mockUserRepo *MockUserRepository)
		expectedError error
	}{
		{
			name: "Успешная регистрация",
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByAccount", ctx, account.Hex()).Return(nil, repository.ErrUserNotFound).Once()
				mockUserRepo.On("CreateUser", ctx, mock.MatchedBy(func(u *models.User) bool {
					return u.Username == username && u.Account == account.Hex() &&
						bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
				})).Return(int64(1), nil).Once()
			},
			expectedError: nil,
		},
		{
			name: "Имя пользователя занято",
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByAccount", ctx, account.Hex()).Return(nil, repository.ErrUserNotFound).Once()
				mockUserRepo.On("CreateUser", ctx, mock.AnythingOfType("*models.User")).
					Return(int64(0), repository.ErrUsernameTaken).Once()
			},
			expectedError: services.ErrUsernameTaken,
		},
		{
			name: "Аккаунт уже привязан",
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByAccount", ctx, account.Hex()).
					Return(&models.User{ID: 3, Username: "owner", Account: account.Hex()}, nil).Once()
			},
			expectedError: services.ErrAccountTaken,
		},
		{
			name: "Аккаунт занят параллельной регистрацией",
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByAccount", ctx, account.Hex()).Return(nil, repository.ErrUserNotFound).Once()
				mockUserRepo.On("CreateUser", ctx, mock.AnythingOfType("*models.User")).
					Return(int64(0), repository.ErrAccountTaken).Once()
			},
			expectedError: services.ErrAccountTaken,
		},
		{
			name: "Ошибка репозитория при проверке аккаунта",
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByAccount", ctx, account.Hex()).Return(nil, errors.New("some db error")).Once()
			},
			expectedError: errors.New("внутренняя ошибка сервера при создании пользователя"),
		},
		{
			name: "Ошибка репозитория при создании",
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByAccount", ctx, account.Hex()).Return(nil, repository.ErrUserNotFound).Once()
				mockUserRepo.On("CreateUser", ctx, mock.AnythingOfType("*models.User")).
					Return(int64(0), errors.New("some db error")).Once()
			},
			expectedError: errors.New("внутренняя ошибка сервера при создании пользователя"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUserRepo := new(MockUserRepository)
			tt.mockSetup(mockUserRepo)

			authService := services.NewAuthService(mockUserRepo, testJWTSecret)
			err := authService.Register(ctx, username, password, account, signature)

			if tt.expectedError != nil {
				require.Error(t, err)
				require.EqualError(t, err, tt.expectedError.Error())
			} else {
				require.NoError(t, err)
			}

			mockUserRepo.AssertExpectations(t)
		})
	}
}

// Регистрация чужого адреса не должна давать токен с этим адресом.
func TestAuthService_RegisterForeignAccount(t *testing.T) {
	ctx := context.Background()
	victimKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	victim := crypto.PubkeyToAddress(victimKey.PublicKey)
	malloryKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, mallorySig, err := ownership.Sign(malloryKey, "mallory")
	require.NoError(t, err)
	_, victimSigForVictim, err := ownership.Sign(victimKey, "victim")
	require.NoError(t, err)

	tests := []struct {
		name      string
		account   common.Address
		signature []byte
		expected  error
	}{
		{name: "Без подписи", account: victim, signature: nil, expected: services.ErrOwnershipNotProven},
		{name: "Подпись своим ключом", account: victim, signature: mallorySig, expected: services.ErrOwnershipNotProven},
		{
			name:      "Чужая подпись под другим именем",
			account:   victim,
			signature: victimSigForVictim,
			expected:  services.ErrOwnershipNotProven,
		},
		{name: "Нулевой аккаунт", account: common.Address{}, signature: mallorySig, expected: services.ErrInvalidAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Репозиторий не должен вызываться вовсе
			mockUserRepo := new(MockUserRepository)
			authService := services.NewAuthService(mockUserRepo, testJWTSecret)

			err := authService.Register(ctx, "mallory", "pw", tt.account, tt.signature)
			require.ErrorIs(t, err, tt.expected)
			mockUserRepo.AssertNotCalled(t, "GetUserByAccount", mock.Anything, mock.Anything)
			mockUserRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	username := "testuser"
	password := "password123"
	wrongPassword := "wrongpassword"
	account := common.HexToAddress("0x00000000000000000000000000000000000000A1")
	hashedPasswordBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err, "Не удалось сгенерировать хеш пароля для тестов")

	correctUser := &models.User{
		ID:           1,
		Username:     username,
		PasswordHash: string(hashedPasswordBytes),
		Account:      account.Hex(),
	}

	tests := []struct {
		name          string
		passwordToUse string
		mockSetup     func(mockUserRepo *MockUserRepository)
		expectedToken bool
		expectedError error
	}{
		{
			name:          "Успешный вход",
			passwordToUse: password,
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByUsername", ctx, username).Return(correctUser, nil).Once()
			},
			expectedToken: true,
		},
		{
			name:          "Пользователь не найден",
			passwordToUse: password,
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByUsername", ctx, username).Return(nil, repository.ErrUserNotFound).Once()
			},
			expectedError: services.ErrInvalidCredentials,
		},
		{
			name:          "Неверный пароль",
			passwordToUse: wrongPassword,
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByUsername", ctx, username).Return(correctUser, nil).Once()
			},
			expectedError: services.ErrInvalidCredentials,
		},
		{
			name:          "Ошибка репозитория при поиске",
			passwordToUse: password,
			mockSetup: func(mockUserRepo *MockUserRepository) {
				mockUserRepo.On("GetUserByUsername", ctx, username).Return(nil, errors.New("some db error")).Once()
			},
			expectedError: errors.New("внутренняя ошибка сервера при поиске пользователя"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUserRepo := new(MockUserRepository)
			tt.mockSetup(mockUserRepo)

			authService := services.NewAuthService(mockUserRepo, testJWTSecret)
			token, loginErr := authService.Login(ctx, username, tt.passwordToUse)

			if tt.expectedError != nil {
				require.Error(t, loginErr)
				require.EqualError(t, loginErr, tt.expectedError.Error())
				assert.Empty(t, token)
			} else {
				require.NoError(t, loginErr)
				require.NotEmpty(t, token)

				// Токен должен содержать адрес аккаунта пользователя
				claims := jwt.MapClaims{}
				_, parseErr := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (interface{}, error) {
					return testJWTSecret, nil
				})
				require.NoError(t, parseErr)
				assert.Equal(t, account.Hex(), claims["account"])
			}

			mockUserRepo.AssertExpectations(t)
		})
	}
}
