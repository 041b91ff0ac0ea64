package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SIWEVerifier checks sign-in-with-Ethereum signatures. SkipVerify
// reproduces the upstream dev bypass; it must be switched on explicitly
// by the operator and stays off by default.
type SIWEVerifier struct {
	SkipVerify bool
}

// Verify recovers the signer of an EIP-191 personal-sign message and
// compares it to the claimed wallet.
func (v SIWEVerifier) Verify(message, signature, wallet string) error {
	if v.SkipVerify {
		return nil
	}
	if !common.IsHexAddress(wallet) {
		return fmt.Errorf("invalid wallet address %q", wallet)
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return errors.New("signature has wrong length")
	}
	// Wallets return the recovery id as 27/28 per the legacy convention.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), wallet) {
		return errors.New("signature does not match wallet")
	}
	return nil
}

// NormalizeWallet lowercases a wallet address after validating it.
// Users are keyed by the normalized form.
func NormalizeWallet(wallet string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid wallet address %q", wallet)
	}
	return strings.ToLower(common.HexToAddress(wallet).Hex()), nil
}
