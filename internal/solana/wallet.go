package solana

import (
	"errors"
	"math/big"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// ErrInvalidPubkey is returned for strings that are not wallet public keys.
var ErrInvalidPubkey = errors.New("invalid solana public key")

// ValidateWallet checks that addr is a base58 32-byte ed25519 point.
// Program-derived addresses are off-curve and rejected; they cannot hold a user wallet.
func ValidateWallet(addr string) error {
	addr = strings.TrimSpace(addr)
	if len(addr) < 32 || len(addr) > 44 {
		return ErrInvalidPubkey
	}
	decoded, err := base58.Decode(addr)
	if err != nil {
		return ErrInvalidPubkey
	}
	if !isOnCurve(decoded) {
		return ErrInvalidPubkey
	}
	return nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// FormatSOL renders lamports as a SOL decimal string without trailing zeros.
func FormatSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9).String()
}
