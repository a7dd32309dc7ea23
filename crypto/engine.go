package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/dfp/limits"
)

// ErrEmptyPasskey indicates that no passphrase was supplied.
var ErrEmptyPasskey = errors.New("passkey must not be empty")

// ErrKeyGeneration indicates that deterministic key generation did not
// converge. This should never happen with a healthy keystream.
var ErrKeyGeneration = errors.New("deterministic key generation failed")

// maxKeygenAttempts bounds the keypair loop. Each attempt draws two primes
// from the keystream; pair rejection is rare.
const maxKeygenAttempts = 128

// maxPrimeDraws bounds candidate draws for a single prime. The expected
// draw count for a 1024-bit prime is a few hundred.
const maxPrimeDraws = 1 << 16

// Engine performs segment-wise asymmetric encryption with a keypair derived
// deterministically from a passphrase and salt. An Engine is safe for
// concurrent use once constructed.
type Engine struct {
	passkey string
	salt    string
	key     *rsa.PrivateKey
}

// NewEngine derives the keypair for (passkey, salt). The derivation is pure:
// identical inputs always produce a bit-identical keypair. If salt is empty,
// limits.DefaultSalt is used. Derivation is expensive (PBKDF2 plus prime
// search), so callers should reuse engines where the compatibility rules
// allow it.
func NewEngine(passkey, salt string) (*Engine, error) {
	if passkey == "" {
		return nil, ErrEmptyPasskey
	}
	if salt == "" {
		salt = limits.DefaultSalt
	}

	dk := pbkdf2.Key([]byte(passkey), []byte(salt), limits.PBKDF2Iterations, limits.DerivedKeySize, sha256.New)

	keystream, err := newKeystreamReader(dk)
	if err != nil {
		return nil, err
	}

	key, err := generateKeypair(keystream, limits.RSAKeyBits)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		passkey: passkey,
		salt:    salt,
		key:     key,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewEngine",
		"fingerprint": engine.Fingerprint(),
	}).Debug("Derived deterministic keypair")

	return engine, nil
}

// PublicKey returns the engine's RSA public key.
func (e *Engine) PublicKey() *rsa.PublicKey {
	return &e.key.PublicKey
}

// Fingerprint returns a short hex digest of the public modulus, suitable for
// logging and for confirming two endpoints derived the same keypair.
func (e *Engine) Fingerprint() string {
	sum := sha256.Sum256(e.key.PublicKey.N.Bytes())
	return hex.EncodeToString(sum[:8])
}

var bigOne = big.NewInt(1)

// generateKeypair produces an RSA keypair reading all randomness from the
// supplied reader. Every candidate byte comes straight off the stream and
// rejected candidates consume stream bytes identically on every run, so a
// deterministic reader yields a deterministic keypair. Library prime
// generators cannot be used here: crypto/rand.Prime consumes an extra byte
// from its source at random (randutil.MaybeReadByte), which desynchronizes
// the stream between derivations.
func generateKeypair(random io.Reader, bits int) (*rsa.PrivateKey, error) {
	e := big.NewInt(65537)

	for attempt := 0; attempt < maxKeygenAttempts; attempt++ {
		p, err := drawPrime(random, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := drawPrime(random, bits/2)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) == 0 {
			continue
		}

		n := new(big.Int).Mul(p, q)
		if n.BitLen() != bits {
			continue
		}

		pMinus1 := new(big.Int).Sub(p, bigOne)
		qMinus1 := new(big.Int).Sub(q, bigOne)
		totient := new(big.Int).Mul(pMinus1, qMinus1)

		d := new(big.Int).ModInverse(e, totient)
		if d == nil {
			// e shares a factor with the totient; redraw both primes.
			continue
		}

		key := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
			D:         d,
			Primes:    []*big.Int{p, q},
		}
		key.Precompute()
		return key, nil
	}

	return nil, ErrKeyGeneration
}

// drawPrime reads fixed-width candidates from the stream until one passes
// the primality test. The top two bits are forced so the product of two
// primes keeps the full modulus width; the low bit is forced to make each
// candidate odd. ProbablyPrime in the stdlib is a pure function of the
// candidate, so acceptance is reproducible across derivations.
func drawPrime(random io.Reader, bits int) (*big.Int, error) {
	buf := make([]byte, bits/8)
	candidate := new(big.Int)

	for draw := 0; draw < maxPrimeDraws; draw++ {
		if _, err := io.ReadFull(random, buf); err != nil {
			return nil, fmt.Errorf("keystream read: %w", err)
		}
		buf[0] |= 0xc0
		buf[len(buf)-1] |= 0x01

		candidate.SetBytes(buf)
		if candidate.ProbablyPrime(20) {
			return new(big.Int).Set(candidate), nil
		}
	}

	return nil, ErrKeyGeneration
}
