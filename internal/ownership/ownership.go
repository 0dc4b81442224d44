// Package ownership подтверждает, что пользователь управляет адресом аккаунта.
//
// При регистрации клиент подписывает сообщение с именем пользователя и адресом
// ключом этого адреса (personal_sign, EIP-191). Сервер восстанавливает
// публичный ключ из подписи и сравнивает полученный адрес с заявленным.
package ownership

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	signatureLength = crypto.SignatureLength
	recoveryIDIndex = crypto.RecoveryIDOffset
	// Смещение V в подписях кошельков (27/28 вместо 0/1).
	legacyVOffset = 27
)

var (
	// ErrInvalidSignature - подпись не разбирается или ключ из нее не восстанавливается.
	ErrInvalidSignature = errors.New("неверный формат подписи")
	// ErrAddressMismatch - подпись сделана ключом другого адреса.
	ErrAddressMismatch = errors.New("подпись не принадлежит аккаунту")
)

// Message возвращает текст, который подписывает владелец аккаунта при регистрации.
func Message(username string, account common.Address) []byte {
	return []byte(fmt.Sprintf("LifeVault registration\nusername: %s\naccount: %s", username, account.Hex()))
}

// textHash - хеш personal_sign: keccak256("\x19Ethereum Signed Message:\n" + len + msg).
func textHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// Sign подписывает регистрационное сообщение ключом и возвращает адрес ключа и подпись.
// V в подписи смещен на 27, как у кошельков.
func Sign(key *ecdsa.PrivateKey, username string) (common.Address, []byte, error) {
	account := crypto.PubkeyToAddress(key.PublicKey)
	sig, err := crypto.Sign(textHash(Message(username, account)), key)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("ошибка подписи регистрационного сообщения: %w", err)
	}
	sig[recoveryIDIndex] += legacyVOffset
	return account, sig, nil
}

// Verify проверяет, что sig сделана ключом account над регистрационным сообщением username.
// Принимает V как 0/1, так и 27/28.
func Verify(username string, account common.Address, sig []byte) error {
	if len(sig) != signatureLength {
		return fmt.Errorf("%w: длина %d, ожидается %d", ErrInvalidSignature, len(sig), signatureLength)
	}
	normalized := make([]byte, signatureLength)
	copy(normalized, sig)
	if normalized[recoveryIDIndex] >= legacyVOffset {
		normalized[recoveryIDIndex] -= legacyVOffset
	}
	if normalized[recoveryIDIndex] > 1 {
		return fmt.Errorf("%w: V=%d", ErrInvalidSignature, sig[recoveryIDIndex])
	}

	pub, err := crypto.SigToPub(textHash(Message(username, account)), normalized)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != account {
		return fmt.Errorf("%w: подписано %s", ErrAddressMismatch, signer.Hex())
	}
	return nil
}
