package cryptoutil

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
)

// ErrBadPadding is returned when Unwrap's padding check fails, which covers
// both a corrupted wrap and a genuine attempt at forgery.
var ErrBadPadding = errors.New("cryptoutil: bad rsa wrap padding")

// Wrap performs the raw RSA *private*-key operation over a PKCS#1 v1.5
// signature-style padded block `0x00 0x01 FF…FF 0x00 ‖ key`, sized to the
// modulus. Using the private key (rather than encrypting with the public
// key) lets the unwrap side simultaneously recover the key and confirm the
// wrapper possesses the private key for the claimed identity.
func Wrap(priv *rsa.PrivateKey, key []byte) ([]byte, error) {
	k := (priv.N.BitLen() + 7) / 8
	if len(key)+11 > k {
		return nil, fmt.Errorf("cryptoutil: key too large for modulus (key=%d, modulus=%d bytes)", len(key), k)
	}

	block := make([]byte, k)
	block[0] = 0x00
	block[1] = 0x01
	padLen := k - 3 - len(key)
	for i := 0; i < padLen; i++ {
		block[2+i] = 0xFF
	}
	block[2+padLen] = 0x00
	copy(block[3+padLen:], key)

	m := new(big.Int).SetBytes(block)
	c := new(big.Int).Exp(m, priv.D, priv.N)

	out := c.Bytes()
	if len(out) < k {
		padded := make([]byte, k)
		copy(padded[k-len(out):], out)
		out = padded
	}
	return out, nil
}

// Unwrap performs the raw RSA *public*-key operation and strips the padding
// Wrap applied, returning the original key. Any single-bit perturbation of
// wrapped causes this to fail with ErrBadPadding.
func Unwrap(pub *rsa.PublicKey, wrapped []byte) ([]byte, error) {
	k := (pub.N.BitLen() + 7) / 8
	if len(wrapped) != k {
		return nil, fmt.Errorf("%w: wrapped length %d != modulus size %d", ErrBadPadding, len(wrapped), k)
	}

	c := new(big.Int).SetBytes(wrapped)
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)

	block := m.Bytes()
	if len(block) < k {
		padded := make([]byte, k)
		copy(padded[k-len(block):], block)
		block = padded
	}

	if block[0] != 0x00 || block[1] != 0x01 {
		return nil, ErrBadPadding
	}
	i := 2
	for i < len(block) && block[i] == 0xFF {
		i++
	}
	if i == 2 || i >= len(block) || block[i] != 0x00 {
		return nil, ErrBadPadding
	}
	return block[i+1:], nil
}
