package services

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// signChallenge produces the signature a wallet's personal_sign would,
// V encoded as 27/28.
func signChallenge(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	t.Parallel()

	key, address := newWallet(t)
	message := ChallengeMessage(address, "nonce-round-trip")

	recovered, err := recoverSigner(message, signChallenge(t, key, message))
	require.NoError(t, err)
	assert.Equal(t, address, recovered.Hex())
}

func TestRecoverSignerAcceptsRawRecoveryID(t *testing.T) {
	t.Parallel()

	key, address := newWallet(t)
	message := "raw V signing check"

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	require.LessOrEqual(t, sig[64], byte(1), "go-ethereum signs with V as 0/1")

	recovered, err := recoverSigner(message, hexutil.Encode(sig))
	require.NoError(t, err)
	assert.Equal(t, address, recovered.Hex())
}

func TestRecoverSignerRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	key, _ := newWallet(t)
	message := "malformed input check"
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)

	_, err = recoverSigner(message, "not-hex")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = recoverSigner(message, hexutil.Encode(sig[:64]))
	assert.ErrorIs(t, err, ErrSignatureInvalid, "truncated signature")

	bad := make([]byte, 65)
	copy(bad, sig)
	bad[64] = 5
	_, err = recoverSigner(message, hexutil.Encode(bad))
	assert.ErrorIs(t, err, ErrSignatureInvalid, "recovery id outside 0/1 and 27/28")
}

func TestIssueChallengeEmbedsAddressAndNonce(t *testing.T) {
	t.Parallel()

	_, address := newWallet(t)
	svc := NewAuthService(nil, NewMemoryNonceStore(), 5*time.Minute)

	challenge, err := svc.IssueChallenge(context.Background(), address)
	require.NoError(t, err)

	assert.Len(t, challenge.Nonce, 64, "32 random bytes hex-encoded")
	assert.Equal(t, 300, challenge.ExpiresIn)
	assert.Contains(t, challenge.Message, address)
	assert.Contains(t, challenge.Message, "Nonce: "+challenge.Nonce)
}

func TestIssueChallengeRejectsBadAddress(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(nil, NewMemoryNonceStore(), time.Minute)

	_, err := svc.IssueChallenge(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestVerifyChallengeRejectsForeignSigner(t *testing.T) {
	t.Parallel()

	_, address := newWallet(t)
	attacker, _ := newWallet(t)
	svc := NewAuthService(nil, NewMemoryNonceStore(), time.Minute)
	ctx := context.Background()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)

	// Attacker signs the victim's challenge with their own key.
	sig := signChallenge(t, attacker, challenge.Message)
	_, err = svc.VerifyChallenge(ctx, address, sig, challenge.Nonce)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyChallengeSpendsNonceOnFailedAttempt(t *testing.T) {
	t.Parallel()

	key, address := newWallet(t)
	attacker, _ := newWallet(t)
	svc := NewAuthService(nil, NewMemoryNonceStore(), time.Minute)
	ctx := context.Background()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)

	_, err = svc.VerifyChallenge(ctx, address, signChallenge(t, attacker, challenge.Message), challenge.Nonce)
	require.ErrorIs(t, err, ErrSignatureInvalid)

	// The failed attempt burned the nonce; even the real key cannot use it now.
	_, err = svc.VerifyChallenge(ctx, address, signChallenge(t, key, challenge.Message), challenge.Nonce)
	assert.ErrorIs(t, err, ErrNonceInvalid)
}

func TestVerifyChallengeRejectsMismatchedNonce(t *testing.T) {
	t.Parallel()

	_, address := newWallet(t)
	svc := NewAuthService(nil, NewMemoryNonceStore(), time.Minute)
	ctx := context.Background()

	_, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)

	_, err = svc.VerifyChallenge(ctx, address, "0x00", "deadbeef")
	assert.ErrorIs(t, err, ErrNonceInvalid)
}

func TestVerifyChallengeRejectsBadAddress(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(nil, NewMemoryNonceStore(), time.Minute)

	_, err := svc.VerifyChallenge(context.Background(), "1234", "0x00", "n")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestVerifyChallengeNonceKeyedByLowercasedAddress(t *testing.T) {
	t.Parallel()

	_, address := newWallet(t)
	attacker, _ := newWallet(t)
	svc := NewAuthService(nil, NewMemoryNonceStore(), time.Minute)
	ctx := context.Background()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)

	// A verify attempt in different casing finds the same stored nonce:
	// it gets past the nonce check and fails on the signature instead.
	lowered := strings.ToLower(address)
	_, err = svc.VerifyChallenge(ctx, lowered, signChallenge(t, attacker, ChallengeMessage(lowered, challenge.Nonce)), challenge.Nonce)
	assert.ErrorIs(t, err, ErrSignatureInvalid, "nonce found under lowercased key, signature check reached")

	_, err = svc.VerifyChallenge(ctx, address, "0x00", challenge.Nonce)
	assert.ErrorIs(t, err, ErrNonceInvalid, "the lowercased attempt spent the nonce")
}
