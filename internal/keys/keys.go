// Package keys signs events with BIP-340 schnorr keys and converts keys to
// and from their NIP-19 bech32 forms.
package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
)

const (
	prefixNpub = "npub"
	prefixNsec = "nsec"
)

// Signer fills in PubKey, ID and Sig of an event template.
type Signer interface {
	PublicKey() string
	Sign(ev *event.Event) error
}

// KeyPair is an in-memory secp256k1 key.
type KeyPair struct {
	priv *btcec.PrivateKey
	pub  string
}

// GenerateKey creates a fresh random key.
func GenerateKey() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("generate key: %w", err))
	}
	return fromPrivate(priv), nil
}

// ParseSecretKey accepts a 64-character hex secret or an nsec string.
func ParseSecretKey(s string) (*KeyPair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.NewInvalidKey("secret key is empty")
	}

	var raw []byte
	if strings.HasPrefix(s, prefixNsec+"1") {
		b, err := decodeBech32(prefixNsec, s)
		if err != nil {
			return nil, err
		}
		raw = b
	} else {
		if len(s) != 64 {
			return nil, errors.NewInvalidKey("secret key must be 64 hex characters")
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, errors.NewInvalidKey("secret key is not valid hex")
		}
		raw = b
	}
	if len(raw) != 32 {
		return nil, errors.NewInvalidKey("secret key must be 32 bytes")
	}

	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, errors.NewInvalidKey("secret key is out of range")
	}

	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivate(priv), nil
}

func fromPrivate(priv *btcec.PrivateKey) *KeyPair {
	return &KeyPair{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// PublicKey returns the x-only public key as 64 hex characters.
func (k *KeyPair) PublicKey() string {
	return k.pub
}

// SecretHex returns the secret key as 64 hex characters.
func (k *KeyPair) SecretHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// Sign sets PubKey, ID and Sig on ev. CreatedAt, Kind, Tags and Content
// must already be final.
func (k *KeyPair) Sign(ev *event.Event) error {
	ev.PubKey = k.pub
	hash := ev.Hash()

	sig, err := schnorr.Sign(k.priv, hash[:])
	if err != nil {
		return errors.NewInternal(fmt.Errorf("sign event: %w", err))
	}

	ev.ID = hex.EncodeToString(hash[:])
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that ev.ID matches its content and ev.Sig is a valid
// signature by ev.PubKey.
func Verify(ev event.Event) bool {
	hash := ev.Hash()
	if hex.EncodeToString(hash[:]) != ev.ID {
		return false
	}

	pubBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pub)
}

// ParsePublicKey accepts an npub string or 64 hex characters and returns the
// hex public key.
func ParsePublicKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, prefixNpub+"1") {
		b, err := decodeBech32(prefixNpub, s)
		if err != nil {
			return "", err
		}
		if len(b) != 32 {
			return "", errors.NewInvalidKey("npub must encode 32 bytes")
		}
		return hex.EncodeToString(b), nil
	}

	if len(s) != 64 {
		return "", errors.NewInvalidKey(fmt.Sprintf("public key must be npub or 64 hex characters: %q", s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", errors.NewInvalidKey("public key is not valid hex")
	}
	if _, err := schnorr.ParsePubKey(b); err != nil {
		return "", errors.NewInvalidKey("public key is not on the curve")
	}
	return strings.ToLower(s), nil
}

// EncodeNpub encodes a hex public key as npub.
func EncodeNpub(pubHex string) (string, error) {
	return encodeBech32(prefixNpub, pubHex)
}

// EncodeNsec encodes a hex secret key as nsec.
func EncodeNsec(secretHex string) (string, error) {
	return encodeBech32(prefixNsec, secretHex)
}

func encodeBech32(hrp, hexKey string) (string, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil || len(b) != 32 {
		return "", errors.NewInvalidKey(fmt.Sprintf("%s: key must be 64 hex characters", hrp))
	}
	conv, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	out, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return out, nil
}

func decodeBech32(wantHRP, s string) ([]byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, errors.NewInvalidKey(fmt.Sprintf("invalid %s: %v", wantHRP, err))
	}
	if hrp != wantHRP {
		return nil, errors.NewInvalidKey(fmt.Sprintf("expected %s prefix, got %s", wantHRP, hrp))
	}
	b, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, errors.NewInvalidKey(fmt.Sprintf("invalid %s payload: %v", wantHRP, err))
	}
	return b, nil
}
