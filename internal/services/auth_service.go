package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/ownership"
	"github.com/maynagashev/lifevault/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// AuthService определяет интерфейс для сервиса аутентификации.
type AuthService interface {
	// Register создает пользователя для account. signature - подпись ownership.Message(username, account)
	// ключом account, без нее аккаунт не привязывается.
	Register(ctx context.Context, username, password string, account common.Address, signature []byte) error
	Login(ctx context.Context, username, password string) (string, error) // Возвращает JWT токен или ошибку
}

// Константы для JWT.
const (
	tokenTTL    = time.Hour * 24 // Время жизни токена - 24 часа
	tokenIssuer = "lifevault-server"
)

// Структура для пользовательских данных в JWT (claims).
type jwtClaims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// Убедимся, что authService удовлетворяет интерфейсу AuthService.
var _ AuthService = (*authService)(nil)

type authService struct {
	userRepo  repository.UserRepository // Зависимость от репозитория пользователей
	jwtSecret []byte
}

// NewAuthService создает новый экземпляр сервиса аутентификации.
func NewAuthService(userRepo repository.UserRepository, jwtSecret []byte) AuthService { // Возвращаем интерфейс
	return &authService{userRepo: userRepo, jwtSecret: jwtSecret}
}

// Register регистрирует нового пользователя, действующего от имени account.
// Аккаунт привязывается только к одному пользователю и только по подписи его ключа.
func (s *authService) Register(
	ctx context.Context,
	username, password string,
	account common.Address,
	signature []byte,
) error {
	if account == (common.Address{}) {
		log.Printf("[AuthService] Попытка регистрации '%s' с нулевым аккаунтом", username)
		return ErrInvalidAccount
	}
	if err := ownership.Verify(username, account, signature); err != nil {
		log.Printf("[AuthService] Владение аккаунтом %s не подтверждено для '%s': %v", account.Hex(), username, err)
		return fmt.Errorf("%w: %w", ErrOwnershipNotProven, err)
	}

	// Проверяем аккаунт до дорогого хеширования. Гонку закрывает уникальный индекс.
	existing, err := s.userRepo.GetUserByAccount(ctx, account.Hex())
	switch {
	case err == nil:
		log.Printf("[AuthService] Аккаунт %s уже привязан к пользователю '%s'", account.Hex(), existing.Username)
		return ErrAccountTaken
	case !errors.Is(err, repository.ErrUserNotFound):
		log.Printf("[AuthService] Ошибка репозитория при проверке аккаунта %s: %v", account.Hex(), err)
		return errors.New("внутренняя ошибка сервера при создании пользователя")
	}

	// Хешируем пароль
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[AuthService] Ошибка хеширования пароля для '%s': %v", username, err)
		return errors.New("внутренняя ошибка сервера при хешировании пароля")
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hashedPassword),
		Account:      account.Hex(),
	}

	// Создаем пользователя через репозиторий
	_, err = s.userRepo.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			log.Printf("[AuthService] Попытка регистрации с занятым именем: %s", username)
			return ErrUsernameTaken // Возвращаем ошибку слоя сервиса
		}
		if errors.Is(err, repository.ErrAccountTaken) {
			log.Printf("[AuthService] Аккаунт %s занят (параллельная регистрация)", account.Hex())
			return ErrAccountTaken
		}
		log.Printf("[AuthService] Непредвиденная ошибка репозитория при регистрации '%s': %v", username, err)
		return errors.New("внутренняя ошибка сервера при создании пользователя")
	}

	log.Printf("[AuthService] Пользователь '%s' успешно зарегистрирован (аккаунт %s)", username, account.Hex())
	return nil
}

// Login аутентифицирует пользователя и возвращает JWT токен.
func (s *authService) Login(ctx context.Context, username, password string) (string, error) {
	// Получаем пользователя по имени пользователя
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Printf("[AuthService] Попытка входа несуществующего пользователя: %s", username)
			return "", ErrInvalidCredentials // Общая ошибка для несуществующего пользователя и неверного пароля
		}
		log.Printf("[AuthService] Ошибка репозитория при поиске '%s': %v", username, err)
		return "", errors.New("внутренняя ошибка сервера при поиске пользователя")
	}

	// Сравниваем предоставленный пароль с хешем из базы данных
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		// Ошибка сравнения означает неверный пароль (или другую проблему bcrypt)
		log.Printf("[AuthService] Неверный пароль для пользователя: %s", username)
		return "", ErrInvalidCredentials // Общая ошибка
	}

	// Генерируем JWT токен
	token, err := s.generateJWT(common.HexToAddress(user.Account))
	if err != nil {
		log.Printf("[AuthService] Ошибка генерации JWT для '%s': %v", username, err)
		return "", errors.New("внутренняя ошибка сервера при генерации токена")
	}

	log.Printf("[AuthService] Пользователь '%s' успешно аутентифицирован", username)
	return token, nil
}

// generateJWT создает и подписывает JWT токен для аккаунта.
func (s *authService) generateJWT(account common.Address) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Account: account.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)), // Время истечения
			IssuedAt:  jwt.NewNumericDate(now),               // Время выдачи
			NotBefore: jwt.NewNumericDate(now),               // Время, с которого токен валиден
			Issuer:    tokenIssuer,                           // Источник токена
		},
	}

	// Создаем токен с нашими claims и методом подписи HS256
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Подписываем токен секретным ключом
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}

	return signedToken, nil
}

// Кастомные ошибки сервиса.
var (
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	ErrUsernameTaken      = errors.New("имя пользователя уже занято")
	ErrAccountTaken       = errors.New("аккаунт уже привязан к другому пользователю")
	ErrInvalidAccount     = errors.New("нулевой адрес не может быть аккаунтом")
	// ErrOwnershipNotProven - подпись отсутствует или сделана не ключом аккаунта.
	ErrOwnershipNotProven = errors.New("владение аккаунтом не подтверждено")
)
