package invite

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// Alphabet 去掉了易混淆的 0/O、1/I 的 32 个字符
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// CodeLength 邀请码长度
const CodeLength = 6

// Generator 邀请码生成器
type Generator struct {
	rand io.Reader
}

// NewGenerator uses crypto/rand unless r is non-nil.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// Generate returns a CodeLength code over Alphabet. len(Alphabet) is 32, so
// masking a byte with 31 keeps every character equally likely.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[b&31]
	}
	return string(buf), nil
}

// Normalize upper-cases and trims user input so "abc234 " matches "ABC234".
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WellFormed reports whether code could have been produced by Generate.
func WellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
