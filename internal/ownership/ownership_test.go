package ownership_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/maynagashev/lifevault/internal/ownership"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	account, sig, err := ownership.Sign(key, "alice")
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), account)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	require.NoError(t, ownership.Verify("alice", account, sig))

	// V в форме 0/1 тоже принимается
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	require.NoError(t, ownership.Verify("alice", account, raw))
}

func TestVerify_Rejects(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	account, sig, err := ownership.Sign(key, "alice")
	require.NoError(t, err)
	victim := crypto.PubkeyToAddress(other.PublicKey)

	tests := []struct {
		name        string
		username    string
		account     common.Address
		sig         []byte
		expectedErr error
	}{
		{
			name:        "Чужой аккаунт",
			username:    "alice",
			account:     victim,
			sig:         sig,
			expectedErr: ownership.ErrAddressMismatch,
		},
		{
			name:        "Другое имя пользователя",
			username:    "mallory",
			account:     account,
			sig:         sig,
			expectedErr: ownership.ErrAddressMismatch,
		},
		{
			name:        "Короткая подпись",
			username:    "alice",
			account:     account,
			sig:         sig[:64],
			expectedErr: ownership.ErrInvalidSignature,
		},
		{
			name:        "Неверный V",
			username:    "alice",
			account:     account,
			sig:         append(append([]byte(nil), sig[:64]...), 5),
			expectedErr: ownership.ErrInvalidSignature,
		},
		{
			name:        "Нулевой аккаунт",
			username:    "alice",
			account:     common.Address{},
			sig:         sig,
			expectedErr: ownership.ErrAddressMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ownership.Verify(tt.username, tt.account, tt.sig)
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}
