package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/maynagashev/lifevault/internal/models"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// ErrAuthorization сигнализирует об ошибке авторизации (401).
var ErrAuthorization = errors.New("ошибка авторизации")

// ErrNoToken - запрос требует аутентификации, а токена нет.
var ErrNoToken = errors.New("токен аутентификации отсутствует, выполните вход")

// StatusError - неуспешный ответ сервера с текстом ошибки.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ошибка сервера: статус %d", e.StatusCode)
	}
	return fmt.Sprintf("ошибка сервера: статус %d: %s", e.StatusCode, e.Message)
}

// CreateVaultParams - параметры нового хранилища.
type CreateVaultParams struct {
	Kind        models.VaultKind
	Schedule    uint64
	Beneficiary common.Address // Нулевой адрес не передается
	Deposit     *uint256.Int
}

// Client определяет интерфейс для взаимодействия с API сервера LifeVault.
type Client interface {
	// Register регистрирует пользователя. signature подтверждает владение account (см. пакет ownership).
	Register(ctx context.Context, username, password string, account common.Address, signature []byte) error
	// Login аутентифицирует пользователя, сохраняет и возвращает JWT токен.
	Login(ctx context.Context, username, password string) (string, error)
	CreateVault(ctx context.Context, params CreateVaultParams) (uint8, error)
	ListVaults(ctx context.Context) ([]models.VaultData, error)
	Withdraw(ctx context.Context, slot uint8) (*models.WithdrawResponse, error)
	Ping(ctx context.Context, slot uint8) (*models.PingResponse, error)
	Claim(ctx context.Context, owner common.Address, slot uint8) (*models.ClaimResponse, error)
	GetVaultData(ctx context.Context, account common.Address, slot uint8) (*models.VaultData, error)
	GetVaultCount(ctx context.Context, account common.Address) (uint8, error)
	GetVaultStats(ctx context.Context, account common.Address) (*models.VaultStats, error)
	GetBalance(ctx context.Context) (*models.BalanceResponse, error)
	ListEvents(ctx context.Context, limit int) ([]models.Event, error)
	// SetAuthToken устанавливает JWT токен для аутентифицированных запросов.
	SetAuthToken(token string)
}

// Options настраивает HTTP клиент.
type Options struct {
	Timeout time.Duration
	// InsecureSkipVerify отключает проверку сертификата (самоподписанный сертификат в разработке).
	InsecureSkipVerify bool
}

// httpClient реализует интерфейс Client поверх HTTP.
type httpClient struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewHTTPClient создает новый экземпляр API клиента.
func NewHTTPClient(baseURL string, opts Options) Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Только по явному флагу
	}
	return &httpClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// SetAuthToken устанавливает токен аутентификации для клиента.
func (c *httpClient) SetAuthToken(token string) {
	c.authToken = token
}

// do выполняет запрос и декодирует JSON ответ в out, если он не nil.
func (c *httpClient) do(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	body interface{},
	auth bool,
	expectedStatus int,
	out interface{},
) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("ошибка формирования URL %s: %w", path, err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("ошибка кодирования запроса: %w", marshalErr)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if c.authToken == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		if resp.StatusCode == http.StatusUnauthorized && auth {
			return ErrAuthorization
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ошибка декодирования ответа: %w", err)
		}
	}
	return nil
}

// Register отправляет запрос на регистрацию.
func (c *httpClient) Register(
	ctx context.Context,
	username, password string,
	account common.Address,
	signature []byte,
) error {
	req := models.RegisterRequest{
		Username:  username,
		Password:  password,
		Account:   account.Hex(),
		Signature: hexutil.Encode(signature),
	}
	return c.do(ctx, http.MethodPost, "/api/register", nil, req, false, http.StatusCreated, nil)
}

// Login отправляет запрос на вход и сохраняет токен.
func (c *httpClient) Login(ctx context.Context, username, password string) (string, error) {
	var resp models.LoginResponse
	req := models.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, req, false, http.StatusOK, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return "", ErrAuthorization
		}
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("сервер вернул пустой токен")
	}
	c.authToken = resp.Token
	return resp.Token, nil
}

// CreateVault создает хранилище и возвращает номер слота.
func (c *httpClient) CreateVault(ctx context.Context, params CreateVaultParams) (uint8, error) {
	if params.Deposit == nil {
		return 0, errors.New("не указана сумма депозита")
	}
	req := models.CreateVaultRequest{
		Kind:     uint8(params.Kind),
		Schedule: params.Schedule,
		Deposit:  params.Deposit.Dec(),
	}
	if params.Beneficiary != (common.Address{}) {
		req.Beneficiary = params.Beneficiary.Hex()
	}
	var resp models.CreateVaultResponse
	if err := c.do(ctx, http.MethodPost, "/api/vaults", nil, req, true, http.StatusCreated, &resp); err != nil {
		return 0, err
	}
	return resp.Slot, nil
}

// ListVaults возвращает все слоты вызывающего.
func (c *httpClient) ListVaults(ctx context.Context) ([]models.VaultData, error) {
	var resp []models.VaultData
	if err := c.do(ctx, http.MethodGet, "/api/vaults", nil, nil, true, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Withdraw выводит средства из TimeLocked хранилища.
func (c *httpClient) Withdraw(ctx context.Context, slot uint8) (*models.WithdrawResponse, error) {
	var resp models.WithdrawResponse
	path := "/api/vaults/" + strconv.Itoa(int(slot)) + "/withdraw"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, true, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping подтверждает активность владельца DeadManSwitch хранилища.
func (c *httpClient) Ping(ctx context.Context, slot uint8) (*models.PingResponse, error) {
	var resp models.PingResponse
	path := "/api/vaults/" + strconv.Itoa(int(slot)) + "/ping"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, true, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Claim забирает средства хранилища owner в пользу вызывающего бенефициара.
func (c *httpClient) Claim(ctx context.Context, owner common.Address, slot uint8) (*models.ClaimResponse, error) {
	var resp models.ClaimResponse
	req := models.ClaimRequest{Owner: owner.Hex(), Slot: &slot}
	if err := c.do(ctx, http.MethodPost, "/api/vaults/claim", nil, req, true, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetVaultData читает слот любого аккаунта.
func (c *httpClient) GetVaultData(ctx context.Context, account common.Address, slot uint8) (*models.VaultData, error) {
	var resp models.VaultData
	path := "/api/accounts/" + account.Hex() + "/vaults/" + strconv.Itoa(int(slot))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, false, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetVaultCount возвращает количество активных слотов аккаунта.
func (c *httpClient) GetVaultCount(ctx context.Context, account common.Address) (uint8, error) {
	var resp models.CountResponse
	path := "/api/accounts/" + account.Hex() + "/count"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, false, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// GetVaultStats возвращает занятость и исторический максимум слотов аккаунта.
func (c *httpClient) GetVaultStats(ctx context.Context, account common.Address) (*models.VaultStats, error) {
	var resp models.VaultStats
	path := "/api/accounts/" + account.Hex() + "/stats"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, false, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBalance возвращает баланс вызывающего в реестре выплат.
func (c *httpClient) GetBalance(ctx context.Context) (*models.BalanceResponse, error) {
	var resp models.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/balance", nil, nil, true, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListEvents возвращает последние события вызывающего.
func (c *httpClient) ListEvents(ctx context.Context, limit int) ([]models.Event, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp []models.Event
	if err := c.do(ctx, http.MethodGet, "/api/events", query, nil, true, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
