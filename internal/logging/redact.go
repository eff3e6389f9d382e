package logging

import "strings"

const redacted = "[redacted]"

// Credential material must never reach a log sink, whatever the handler.
var secretKeys = map[string]struct{}{
	"access_token":       {},
	"refresh_token":      {},
	"activation_bytes":   {},
	"adp_token":          {},
	"device_private_key": {},
	"code_verifier":      {},
	"api_key":            {},
	"audible_key":        {},
	"audible_iv":         {},
	"secret_access_key":  {},
}

func isSecretKey(key string) bool {
	if idx := strings.LastIndexByte(key, '.'); idx >= 0 {
		key = key[idx+1:]
	}
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}
