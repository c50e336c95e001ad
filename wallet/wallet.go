package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet pairs a public address with its signing key. Keys are treated as
// opaque material; nothing in this module persists them.
type Wallet struct {
	Address    solana.PublicKey
	SigningKey solana.PrivateKey
}

// FromBase58 parses an address/key pair and verifies they belong together.
func FromBase58(address, signingKey string) (Wallet, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return Wallet{}, fmt.Errorf("invalid wallet address: %w", err)
	}
	priv, err := solana.PrivateKeyFromBase58(signingKey)
	if err != nil {
		return Wallet{}, fmt.Errorf("invalid signing key: %w", err)
	}
	if !priv.PublicKey().Equals(pub) {
		return Wallet{}, fmt.Errorf("signing key does not match address %s", address)
	}
	return Wallet{Address: pub, SigningKey: priv}, nil
}

// Generate creates a throwaway wallet. Test helper.
func Generate() Wallet {
	priv, _ := solana.NewRandomPrivateKey()
	return Wallet{Address: priv.PublicKey(), SigningKey: priv}
}

// Addresses returns the base58 addresses of wallets in input order.
func Addresses(wallets []Wallet) []string {
	out := make([]string, len(wallets))
	for i, w := range wallets {
		out[i] = w.Address.String()
	}
	return out
}

// Keyring builds the private-key getter used for transaction signing.
// It returns nil for unknown signers so partially prepared transactions
// keep their backend-provided signatures.
func Keyring(wallets []Wallet) func(key solana.PublicKey) *solana.PrivateKey {
	byAddr := make(map[solana.PublicKey]solana.PrivateKey, len(wallets))
	for _, w := range wallets {
		byAddr[w.Address] = w.SigningKey
	}
	return func(key solana.PublicKey) *solana.PrivateKey {
		if priv, ok := byAddr[key]; ok {
			return &priv
		}
		return nil
	}
}
