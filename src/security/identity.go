// MIT License
//
// Copyright (c) 2024 sphinx-core
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// go/src/security/identity.go
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcutil/base58"
	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/lyra-core/go/src/common"
)

const (
	// AccountPrefix starts every account id.
	AccountPrefix = "L"

	// accountVersion is the base58check version byte of account ids.
	accountVersion byte = 0x4c
)

var (
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("bad signature")

	// ErrBadAccountID is returned for account ids that do not decode to a public key.
	ErrBadAccountID = errors.New("malformed account id")
)

// Identity is the signing identity of a node or a wallet account.
// It is immutable after construction.
type Identity struct {
	accountID  string
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

// keyFile is the on-disk form of an identity.
type keyFile struct {
	AccountID string `json:"account_id"`
	Seed      string `json:"seed"`
}

// GenerateIdentity creates a fresh random identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Identity{accountID: AccountIDFromPublicKey(pub), publicKey: pub, privateKey: priv}, nil
}

// NewIdentityFromSeed derives an identity from a 32 byte seed.
func NewIdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{accountID: AccountIDFromPublicKey(pub), publicKey: pub, privateKey: priv}, nil
}

// LoadOrCreateIdentity reads the key file at path, creating it when missing.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	var kf keyFile
	err := common.ReadJSONFromFile(path, &kf)
	switch {
	case err == nil:
		seed, err := hex.DecodeString(kf.Seed)
		if err != nil {
			return nil, fmt.Errorf("invalid seed in %s: %w", path, err)
		}
		return NewIdentityFromSeed(seed)
	case errors.Is(err, os.ErrNotExist):
		id, err := GenerateIdentity()
		if err != nil {
			return nil, err
		}
		if err := id.Save(path); err != nil {
			return nil, err
		}
		return id, nil
	default:
		return nil, err
	}
}

// Save writes the identity seed to path.
func (id *Identity) Save(path string) error {
	return common.WriteJSONToFile(keyFile{AccountID: id.accountID, Seed: hex.EncodeToString(id.privateKey.Seed())}, path)
}

// AccountID returns the account id derived from the public key.
func (id *Identity) AccountID() string { return id.accountID }

// PublicKey returns the raw public key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.publicKey }

// Sign signs data and returns the base58 encoded signature.
func (id *Identity) Sign(data []byte) string {
	return base58.Encode(ed25519.Sign(id.privateKey, data))
}

// SignString signs the UTF-8 bytes of s.
func (id *Identity) SignString(s string) string {
	return id.Sign([]byte(s))
}

// AccountIDFromPublicKey encodes a public key as an account id.
func AccountIDFromPublicKey(pub ed25519.PublicKey) string {
	return AccountPrefix + base58.CheckEncode(pub, accountVersion)
}

// PublicKeyFromAccountID decodes the public key embedded in an account id.
func PublicKeyFromAccountID(accountID string) (ed25519.PublicKey, error) {
	if len(accountID) <= len(AccountPrefix) || accountID[:len(AccountPrefix)] != AccountPrefix {
		return nil, ErrBadAccountID
	}
	raw, version, err := base58.CheckDecode(accountID[len(AccountPrefix):])
	if err != nil || version != accountVersion || len(raw) != ed25519.PublicKeySize {
		return nil, ErrBadAccountID
	}
	return ed25519.PublicKey(raw), nil
}

// ValidateAccountID reports whether accountID is well formed.
func ValidateAccountID(accountID string) bool {
	_, err := PublicKeyFromAccountID(accountID)
	return err == nil
}

// VerifyAccountSignature checks a base58 signature over data by accountID.
func VerifyAccountSignature(data []byte, accountID, signature string) bool {
	pub, err := PublicKeyFromAccountID(accountID)
	if err != nil {
		return false
	}
	sig := base58.Decode(signature)
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
