package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// pkceVerifierBytes はcode_verifierの乱数バイト数。hex化で112文字になる。
const pkceVerifierBytes = 56

// codeChallengeMethod はGoTrueに渡すチャレンジ方式。
const codeChallengeMethod = "s256"

// newCodeVerifier はPKCEのcode_verifierを生成する。
func newCodeVerifier() (string, error) {
	b := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// codeChallenge はverifierのSHA-256をbase64url（パディングなし）で返す。
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
