package utils

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxGroupNameLen = 64
	MaxUserIDLen    = 64
)

// NormalizeGroupName 去除首尾空白，名称为空或过长时返回 false
func NormalizeGroupName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n > 0 && n <= MaxGroupNameLen
}

// ValidateUserID 用户ID由身份提供方给出，这里只做长度和空白检查
func ValidateUserID(id string) bool {
	return id != "" && len(id) <= MaxUserIDLen && strings.TrimSpace(id) == id
}
