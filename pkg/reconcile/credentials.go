package reconcile

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// credentialAlphabet omits characters that are easy to misread in an email.
const credentialAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

// MinGeneratedCredentialLength is the shortest credential GeneratedCredential will issue.
const MinGeneratedCredentialLength = 8

// IssuedCredential is the initial credential for a new account.
type IssuedCredential struct {
	Plain      string
	MustRotate bool
}

// CredentialStrategy issues the initial credential for newly provisioned accounts.
type CredentialStrategy interface {
	Issue() (IssuedCredential, error)
}

// StaticCredential issues the same configured credential to every account.
// Because the secret is shared, rotation on first use is always required.
type StaticCredential struct {
	Value string
}

func (s StaticCredential) Issue() (IssuedCredential, error) {
	if s.Value == "" {
		return IssuedCredential{}, errors.New("static credential is empty")
	}
	return IssuedCredential{Plain: s.Value, MustRotate: true}, nil
}

// GeneratedCredential issues a random credential per account.
type GeneratedCredential struct {
	Length int
	// SkipRotation leaves MustChangePassword unset on accounts provisioned with this strategy.
	SkipRotation bool
}

func (g GeneratedCredential) Issue() (IssuedCredential, error) {
	length := g.Length
	if length < MinGeneratedCredentialLength {
		length = MinGeneratedCredentialLength
	}
	plain, err := randomCredential(rand.Reader, length)
	if err != nil {
		return IssuedCredential{}, fmt.Errorf("generate credential: %w", err)
	}
	return IssuedCredential{Plain: plain, MustRotate: !g.SkipRotation}, nil
}

// randomCredential draws each symbol uniformly from credentialAlphabet.
// Bytes at or above the largest multiple of the alphabet size are discarded.
func randomCredential(r io.Reader, length int) (string, error) {
	limit := 256 - 256%len(credentialAlphabet)
	var sb strings.Builder
	sb.Grow(length)
	buf := make([]byte, length)
	for sb.Len() < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, v := range buf {
			if int(v) >= limit {
				continue
			}
			sb.WriteByte(credentialAlphabet[int(v)%len(credentialAlphabet)])
			if sb.Len() == length {
				break
			}
		}
	}
	return sb.String(), nil
}

// HashCredential returns the bcrypt hash of plain at the given cost.
// A cost of zero uses bcrypt.DefaultCost.
func HashCredential(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// CheckCredential reports whether plain matches hash.
func CheckCredential(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
