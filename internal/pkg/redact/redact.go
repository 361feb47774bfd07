// redact — маскирование чувствительных значений перед логированием.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Email оставляет первые две руны локальной части и домен.
func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := []rune(parts[0]), parts[1]
	if len(local) > 2 {
		return string(local[:2]) + "***@" + domain
	}

	return "***@" + domain
}

// Token возвращает короткий отпечаток токена: по нему можно сопоставить
// записи лога, не раскрывая сам токен. Пустой токен — "-".
func Token(tok string) string {
	if tok == "" {
		return "-"
	}

	sum := sha256.Sum256([]byte(tok))
	return "tok:" + hex.EncodeToString(sum[:4])
}

func Password() string { return "[REDACTED_PASSWORD]" }
