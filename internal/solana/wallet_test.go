package solana

import (
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func TestValidateWallet(t *testing.T) {
	// ed25519 base point, a valid on-curve encoding
	basePoint := []byte{
		0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	}
	valid := base58.Encode(basePoint)

	if err := ValidateWallet(valid); err != nil {
		t.Errorf("expected %s to be valid, got %v", valid, err)
	}

	cases := []string{
		"",
		"not-base58-0OIl",
		"abc",
		base58.Encode([]byte{1, 2, 3}),
	}
	for _, c := range cases {
		if err := ValidateWallet(c); !errors.Is(err, ErrInvalidPubkey) {
			t.Errorf("%q: expected ErrInvalidPubkey, got %v", c, err)
		}
	}
}

func TestFormatSOL(t *testing.T) {
	cases := map[uint64]string{
		0:               "0",
		1:               "0.000000001",
		1_500_000_000:   "1.5",
		LamportsPerSOL:  "1",
		123_456_789_000: "123.456789",
	}
	for lamports, want := range cases {
		if got := FormatSOL(lamports); got != want {
			t.Errorf("FormatSOL(%d) = %s, want %s", lamports, got, want)
		}
	}
}
