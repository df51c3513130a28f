package ops

import (
	"strings"

	"github.com/hpungsan/nci/internal/keys"
)

// KeyInput contains parameters for the Key operation.
type KeyInput struct {
	Secret string // optional hex or nsec secret; empty generates a new key
}

// KeyOutput contains the result of the Key operation. The secret fields
// are only set for a generated key.
type KeyOutput struct {
	Generated bool   `json:"generated"`
	SecretHex string `json:"secret_hex,omitempty"`
	Nsec      string `json:"nsec,omitempty"`
	Npub      string `json:"npub"`
	PublicHex string `json:"public_hex"`
}

// Key derives the public identity of a secret key, or generates a new one.
func Key(input KeyInput) (*KeyOutput, error) {
	var (
		kp  *keys.KeyPair
		err error
	)
	secret := strings.TrimSpace(input.Secret)
	if secret == "" {
		kp, err = keys.GenerateKey()
	} else {
		kp, err = keys.ParseSecretKey(secret)
	}
	if err != nil {
		return nil, err
	}

	npub, err := keys.EncodeNpub(kp.PublicKey())
	if err != nil {
		return nil, err
	}
	out := &KeyOutput{
		Generated: secret == "",
		Npub:      npub,
		PublicHex: kp.PublicKey(),
	}
	if out.Generated {
		out.SecretHex = kp.SecretHex()
		if out.Nsec, err = keys.EncodeNsec(out.SecretHex); err != nil {
			return nil, err
		}
	}
	return out, nil
}
