package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bot-arena-system/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthService implements the wallet challenge flow: issue a single-use
// nonce, then verify a personal_sign signature over the challenge message
// and upsert the wallet identity.
type AuthService struct {
	DB       *gorm.DB
	Nonces   NonceStore
	NonceTTL time.Duration
}

func NewAuthService(db *gorm.DB, nonces NonceStore, nonceTTL time.Duration) *AuthService {
	return &AuthService{DB: db, Nonces: nonces, NonceTTL: nonceTTL}
}

// Challenge is what the client signs. ExpiresIn is seconds.
type Challenge struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

// ChallengeMessage builds the exact text the wallet signs. The address is
// embedded in the casing the caller supplied, so issue and verify must use
// the same casing.
func ChallengeMessage(address, nonce string) string {
	return fmt.Sprintf(
		"Bot Arena wants you to sign in with your wallet:\n%s\n\n"+
			"This signature proves you control the address. It does not authorize any transaction and costs no gas.\n\n"+
			"Nonce: %s",
		address, nonce,
	)
}

// IssueChallenge stores a fresh nonce for the address (replacing any
// previous one) and returns the message to sign.
func (s *AuthService) IssueChallenge(ctx context.Context, address string) (*Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	if err := s.Nonces.Put(ctx, strings.ToLower(address), nonce, s.NonceTTL); err != nil {
		return nil, fmt.Errorf("store nonce: %w", err)
	}

	return &Challenge{
		Nonce:     nonce,
		Message:   ChallengeMessage(address, nonce),
		ExpiresIn: int(s.NonceTTL.Seconds()),
	}, nil
}

// VerifyChallenge consumes the stored nonce for the address, recovers the
// signer from the personal_sign signature and, on success, upserts and
// returns the wallet identity. The nonce is spent by any attempt that
// finds one, matching or not.
func (s *AuthService) VerifyChallenge(ctx context.Context, address, signature, nonce string) (*models.User, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	lower := strings.ToLower(address)

	stored, err := s.Nonces.Consume(ctx, lower)
	if err != nil {
		return nil, err
	}
	if stored != nonce {
		return nil, ErrNonceInvalid
	}

	recovered, err := recoverSigner(ChallengeMessage(address, nonce), signature)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return nil, ErrSignatureInvalid
	}

	now := time.Now()
	user := models.User{Address: lower, LastSeen: &now}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen", "updated_at"}),
	}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	if err := s.DB.WithContext(ctx).Where("address = ?", lower).First(&user).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &user, nil
}

// recoverSigner recovers the wallet behind a personal_sign signature over
// message. Accepts V as 27/28 (wallet convention) or 0/1.
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrSignatureInvalid
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, ErrSignatureInvalid
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, ErrSignatureInvalid
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RequestNonce handles POST /auth/nonce
func (s *AuthService) RequestNonce(c *fiber.Ctx) error {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	challenge, err := s.IssueChallenge(c.Context(), req.Address)
	if err != nil {
		if errors.Is(err, ErrInvalidAddress) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid wallet address"})
		}
		log.Printf("❌ [Auth] failed to issue challenge: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue challenge"})
	}

	return c.JSON(challenge)
}

// VerifySignature handles POST /auth/verify
func (s *AuthService) VerifySignature(c *fiber.Ctx) error {
	var req struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
		Nonce     string `json:"nonce"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	user, err := s.VerifyChallenge(c.Context(), req.Address, req.Signature, req.Nonce)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAddress):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid wallet address"})
		case errors.Is(err, ErrNonceInvalid):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Nonce expired or already used"})
		case errors.Is(err, ErrSignatureInvalid):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Signature verification failed"})
		default:
			log.Printf("❌ [Auth] verification error for %s: %v", req.Address, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Verification failed"})
		}
	}

	log.Printf("✅ [Auth] wallet %s verified", user.Address)
	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":      user.ID,
			"address": user.Address,
		},
	})
}
