package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maynagashev/lifevault/internal/api"
	"github.com/maynagashev/lifevault/internal/session"
	"github.com/spf13/cobra"
)

const (
	defaultServerURL   = "https://localhost:8443"
	serverURLEnvVar    = "LIFEVAULT_SERVER_URL"
	sessionPathEnvVar  = "LIFEVAULT_SESSION"
	defaultSessionFile = ".lifevault/session.json"
	defaultTimeout     = 30 * time.Second
)

// cliApp - общее состояние команд, заполняется в PersistentPreRunE.
type cliApp struct {
	serverURL   string
	sessionPath string
	insecure    bool
	jsonOutput  bool
	timeout     time.Duration

	store   *session.Store
	session session.Session
	client  api.Client
}

func newRootCmd() *cobra.Command {
	app := &cliApp{}

	rootCmd := &cobra.Command{
		Use:          "lifevault",
		Short:        "Клиент LifeVault: хранилища с блокировкой по времени и по неактивности",
		Version:      fmt.Sprintf("%s (build %s, commit %s)", version, buildDate, commitHash),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.prepare(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.serverURL, "server-url", "",
		"URL сервера LifeVault (переопределяет "+serverURLEnvVar+" и сохраненную сессию)")
	flags.StringVar(&app.sessionPath, "session", "",
		"Путь к файлу сессии (по умолчанию ~/"+defaultSessionFile+", переопределяет "+sessionPathEnvVar+")")
	flags.BoolVar(&app.insecure, "insecure", false, "Не проверять TLS сертификат сервера")
	flags.BoolVar(&app.jsonOutput, "json", false, "Выводить результат в формате JSON")
	flags.DurationVar(&app.timeout, "timeout", defaultTimeout, "Таймаут HTTP запросов")

	rootCmd.AddCommand(
		newRegisterCmd(app),
		newLoginCmd(app),
		newLogoutCmd(app),
		newCreateCmd(app),
		newListCmd(app),
		newWithdrawCmd(app),
		newPingCmd(app),
		newClaimCmd(app),
		newShowCmd(app),
		newCountCmd(app),
		newStatsCmd(app),
		newBalanceCmd(app),
		newEventsCmd(app),
	)
	return rootCmd
}

// prepare определяет путь сессии и URL сервера.
// Приоритет URL: флаг, переменная окружения, сессия, значение по умолчанию.
func (a *cliApp) prepare(cmd *cobra.Command) error {
	path, err := a.resolveSessionPath()
	if err != nil {
		return err
	}
	a.store = session.NewStore(path)

	a.session, err = a.store.Load()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return err
	}

	source := "сессия"
	switch {
	case cmd.Flags().Changed("server-url"):
		source = "флаг --server-url"
	case os.Getenv(serverURLEnvVar) != "":
		a.serverURL = os.Getenv(serverURLEnvVar)
		source = "переменная окружения (" + serverURLEnvVar + ")"
	case a.session.ServerURL != "":
		a.serverURL = a.session.ServerURL
	default:
		a.serverURL = defaultServerURL
		source = "по умолчанию"
	}

	a.client = api.NewHTTPClient(a.serverURL, api.Options{Timeout: a.timeout, InsecureSkipVerify: a.insecure})
	if a.session.Token != "" {
		a.client.SetAuthToken(a.session.Token)
	}
	slog.Info("API клиент инициализирован",
		"command", cmd.Name(),
		"baseURL", a.serverURL,
		"source", source,
		"session", path,
	)
	return nil
}

func (a *cliApp) resolveSessionPath() (string, error) {
	if a.sessionPath != "" {
		return a.sessionPath, nil
	}
	if envPath := os.Getenv(sessionPathEnvVar); envPath != "" {
		return envPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("не удалось определить домашнюю директорию, укажите --session: %w", err)
	}
	return filepath.Join(home, defaultSessionFile), nil
}

// authError дополняет ошибки аутентификации подсказкой.
func authError(err error) error {
	if errors.Is(err, api.ErrAuthorization) || errors.Is(err, api.ErrNoToken) {
		return fmt.Errorf("%w (выполните lifevault login)", err)
	}
	return err
}

// printResult выводит v как JSON при --json, иначе вызывает text.
func (a *cliApp) printResult(cmd *cobra.Command, v interface{}, text func()) error {
	if !a.jsonOutput {
		text()
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("ошибка вывода JSON: %w", err)
	}
	return nil
}
