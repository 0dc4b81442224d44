package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/maynagashev/lifevault/internal/api"
	"github.com/maynagashev/lifevault/internal/models"
	"github.com/maynagashev/lifevault/internal/ownership"
	"github.com/maynagashev/lifevault/internal/session"
	"github.com/spf13/cobra"
)

const defaultEventsLimit = 20

func parseSlot(s string) (uint8, error) {
	slot, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("неверный номер слота '%s'", s)
	}
	return uint8(slot), nil
}

func parseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("неверный адрес аккаунта '%s'", s)
	}
	return common.HexToAddress(s), nil
}

// parseKind принимает числовой код или имя вида хранилища.
func parseKind(s string) (models.VaultKind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "0", models.VaultKindTimeLocked.String():
		return models.VaultKindTimeLocked, nil
	case "1", models.VaultKindDeadManSwitch.String():
		return models.VaultKindDeadManSwitch, nil
	default:
		return 0, fmt.Errorf("неизвестный вид хранилища '%s' (time-locked или dead-man-switch)", s)
	}
}

// registrationProof возвращает аккаунт и подпись регистрационного сообщения.
// С --key-file подпись делается локально, иначе берутся готовые --account и --signature
// (например, подписанные кошельком через personal_sign).
func registrationProof(username, keyFile, account, signature string) (common.Address, []byte, error) {
	if keyFile != "" {
		key, err := crypto.LoadECDSA(keyFile)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("ошибка чтения ключа %s: %w", keyFile, err)
		}
		return ownership.Sign(key, username)
	}
	if account == "" || signature == "" {
		return common.Address{}, nil, errors.New("укажите --key-file или пару --account и --signature")
	}
	addr, err := parseAccount(account)
	if err != nil {
		return common.Address{}, nil, err
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("неверный формат подписи: %w", err)
	}
	return addr, sig, nil
}

func newRegisterCmd(app *cliApp) *cobra.Command {
	var username, password, keyFile, account, signature string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Зарегистрировать пользователя и привязать аккаунт",
		Long: "Аккаунт привязывается по подписи сообщения\n" +
			"\"LifeVault registration\\nusername: <имя>\\naccount: <адрес>\" (personal_sign).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, sig, err := registrationProof(username, keyFile, account, signature)
			if err != nil {
				return err
			}
			if err = app.client.Register(cmd.Context(), username, password, addr, sig); err != nil {
				return fmt.Errorf("ошибка регистрации: %w", err)
			}
			slog.Info("Пользователь зарегистрирован", "username", username, "account", addr.Hex())
			fmt.Fprintf(cmd.OutOrStdout(), "Пользователь %s зарегистрирован, аккаунт %s\n", username, addr.Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Имя пользователя")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Пароль")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Файл с приватным ключом аккаунта (hex)")
	cmd.Flags().StringVar(&account, "account", "", "Адрес аккаунта (0x...), если подпись сделана внешним кошельком")
	cmd.Flags().StringVar(&signature, "signature", "", "Подпись регистрационного сообщения (0x...)")
	cmd.MarkFlagsMutuallyExclusive("key-file", "account")
	cmd.MarkFlagsRequiredTogether("account", "signature")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(app *cliApp) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Войти и сохранить токен в файл сессии",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := app.client.Login(cmd.Context(), username, password)
			if err != nil {
				if errors.Is(err, api.ErrAuthorization) {
					return errors.New("неверное имя пользователя или пароль")
				}
				return fmt.Errorf("ошибка входа: %w", err)
			}
			sess := session.Session{ServerURL: app.serverURL, Username: username, Token: token}
			if err = app.store.Save(sess); err != nil {
				return err
			}
			slog.Info("Вход выполнен", "username", username, "session", app.store.Path())
			fmt.Fprintf(cmd.OutOrStdout(), "Вход выполнен как %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Имя пользователя")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Пароль")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Удалить сохраненную сессию",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Сессия удалена")
			return nil
		},
	}
}

func newCreateCmd(app *cliApp) *cobra.Command {
	var kind, beneficiary, deposit string
	var schedule uint64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Создать хранилище в свободном слоте",
		Long: "Для time-locked --schedule задает момент разблокировки (unix-время в секундах).\n" +
			"Для dead-man-switch --schedule задает допустимый период неактивности в секундах.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vaultKind, err := parseKind(kind)
			if err != nil {
				return err
			}
			amount, err := uint256.FromDecimal(deposit)
			if err != nil {
				return fmt.Errorf("неверная сумма депозита '%s': %w", deposit, err)
			}
			params := api.CreateVaultParams{Kind: vaultKind, Schedule: schedule, Deposit: amount}
			if beneficiary != "" {
				if params.Beneficiary, err = parseAccount(beneficiary); err != nil {
					return err
				}
			}
			slot, err := app.client.CreateVault(cmd.Context(), params)
			if err != nil {
				return authError(err)
			}
			slog.Info("Хранилище создано", "slot", slot, "kind", vaultKind.String())
			return app.printResult(cmd, models.CreateVaultResponse{Slot: slot}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Хранилище %s создано в слоте %d\n", vaultKind, slot)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", models.VaultKindTimeLocked.String(), "Вид хранилища: time-locked или dead-man-switch")
	cmd.Flags().Uint64Var(&schedule, "schedule", 0, "Время разблокировки или период неактивности, секунды")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "Адрес бенефициара (для dead-man-switch)")
	cmd.Flags().StringVar(&deposit, "deposit", "", "Сумма депозита в минимальных единицах")
	_ = cmd.MarkFlagRequired("deposit")
	return cmd
}

func printVault(cmd *cobra.Command, owner string, data models.VaultData) {
	out := cmd.OutOrStdout()
	if !data.Active {
		fmt.Fprintf(out, "%sслот %d: пусто\n", owner, data.Slot)
		return
	}
	fmt.Fprintf(out, "%sслот %d: %s, сумма %s, schedule %d", owner, data.Slot, data.Kind, data.Amount.Dec(), data.Schedule)
	if data.Kind == models.VaultKindDeadManSwitch {
		fmt.Fprintf(out, ", last_seen %d, бенефициар %s", data.LastSeen, data.Beneficiary.Hex())
	}
	fmt.Fprintln(out)
}

func newListCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Показать все слоты текущего аккаунта",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vaults, err := app.client.ListVaults(cmd.Context())
			if err != nil {
				return authError(err)
			}
			return app.printResult(cmd, vaults, func() {
				for _, v := range vaults {
					printVault(cmd, "", v)
				}
			})
		},
	}
}

func newWithdrawCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw SLOT",
		Short: "Вывести средства из time-locked хранилища (досрочно со штрафом)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			resp, err := app.client.Withdraw(cmd.Context(), slot)
			if err != nil {
				return authError(err)
			}
			slog.Info("Средства выведены", "slot", slot, "payout", resp.Payout, "penalty", resp.Penalty)
			return app.printResult(cmd, resp, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Слот %d закрыт: выплачено %s, штраф %s\n", resp.Slot, resp.Payout, resp.Penalty)
			})
		},
	}
}

func newPingCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "ping SLOT",
		Short: "Подтвердить активность владельца dead-man-switch хранилища",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			resp, err := app.client.Ping(cmd.Context(), slot)
			if err != nil {
				return authError(err)
			}
			return app.printResult(cmd, resp, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Слот %d: активность подтверждена, last_seen %d\n", resp.Slot, resp.LastSeen)
			})
		},
	}
}

func newClaimCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "claim OWNER SLOT",
		Short: "Забрать средства неактивного владельца как бенефициар",
		Args:  cobra.ExactArgs(2), //nolint:mnd // владелец и слот
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			slot, err := parseSlot(args[1])
			if err != nil {
				return err
			}
			resp, err := app.client.Claim(cmd.Context(), owner, slot)
			if err != nil {
				return authError(err)
			}
			slog.Info("Наследство получено", "owner", owner.Hex(), "slot", slot, "amount", resp.Amount)
			return app.printResult(cmd, resp, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Получено %s из слота %d аккаунта %s\n", resp.Amount, resp.Slot, resp.Owner)
			})
		},
	}
}

func newShowCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "show ACCOUNT SLOT",
		Short: "Показать слот любого аккаунта",
		Args:  cobra.ExactArgs(2), //nolint:mnd // аккаунт и слот
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			slot, err := parseSlot(args[1])
			if err != nil {
				return err
			}
			data, err := app.client.GetVaultData(cmd.Context(), account, slot)
			if err != nil {
				return err
			}
			return app.printResult(cmd, data, func() {
				printVault(cmd, account.Hex()+" ", *data)
			})
		},
	}
}

func newCountCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "count ACCOUNT",
		Short: "Количество активных хранилищ аккаунта",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			count, err := app.client.GetVaultCount(cmd.Context(), account)
			if err != nil {
				return err
			}
			return app.printResult(cmd, models.CountResponse{Count: count}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", count)
			})
		},
	}
}

func newStatsCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "stats ACCOUNT",
		Short: "Занятость слотов и исторический максимум",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			stats, err := app.client.GetVaultStats(cmd.Context(), account)
			if err != nil {
				return err
			}
			return app.printResult(cmd, stats, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "активных: %d из %d, максимум: %d\n",
					stats.Active, models.MaxSlots, stats.HighWaterMark)
			})
		},
	}
}

func newBalanceCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Баланс текущего аккаунта в реестре выплат",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := app.client.GetBalance(cmd.Context())
			if err != nil {
				return authError(err)
			}
			return app.printResult(cmd, resp, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Account, resp.Balance)
			})
		},
	}
}

func newEventsCmd(app *cliApp) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Последние события текущего аккаунта",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := app.client.ListEvents(cmd.Context(), limit)
			if err != nil {
				return authError(err)
			}
			return app.printResult(cmd, list, func() {
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "Событий нет")
					return
				}
				for _, e := range list {
					fmt.Fprintf(out, "%d %s слот %d", e.Timestamp, e.Type, e.Slot)
					if e.Amount != "" {
						fmt.Fprintf(out, " сумма %s", e.Amount)
					}
					if e.Penalty != "" {
						fmt.Fprintf(out, " штраф %s", e.Penalty)
					}
					if e.Recipient != nil {
						fmt.Fprintf(out, " получатель %s", e.Recipient.Hex())
					}
					fmt.Fprintln(out)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultEventsLimit, "Максимальное количество событий")
	return cmd
}
