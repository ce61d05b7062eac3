package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer вычисляет и проверяет HMAC-ключи.
type Signer struct {
	secret []byte
}

// NewSigner создаёт Signer с секретом secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign возвращает hex HMAC-SHA256 от msg.
func (s *Signer) Sign(msg string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает key с подписью msg за постоянное время.
func (s *Signer) Verify(msg, key string) bool {
	if key == "" {
		return false
	}
	return hmac.Equal([]byte(s.Sign(msg)), []byte(key))
}
