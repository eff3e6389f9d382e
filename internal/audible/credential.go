package audible

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var activationBytesPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// ValidActivationBytes reports whether s is exactly 8 lowercase hex characters.
func ValidActivationBytes(s string) bool {
	return activationBytesPattern.MatchString(s)
}

// Credential is the caller-owned session returned by login and refresh.
// Fields the service does not interpret (adp_token, device_private_key,
// cookies, device_info, ...) are kept in Extra and written back verbatim.
type Credential struct {
	AccessToken     string
	RefreshToken    string
	Expires         int64
	ActivationBytes string
	DeviceSerial    string
	LocaleCode      string
	Extra           map[string]json.RawMessage
}

var credentialKeys = map[string]struct{}{
	"access_token":     {},
	"refresh_token":    {},
	"expires":          {},
	"activation_bytes": {},
	"device_serial":    {},
	"locale_code":      {},
}

// MarshalJSON writes known fields over the preserved extras.
func (c Credential) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+len(credentialKeys))
	for k, v := range c.Extra {
		out[k] = v
	}
	out["access_token"] = c.AccessToken
	out["refresh_token"] = c.RefreshToken
	out["expires"] = c.Expires
	if c.ActivationBytes != "" {
		out["activation_bytes"] = c.ActivationBytes
	}
	if c.DeviceSerial != "" {
		out["device_serial"] = c.DeviceSerial
	}
	if c.LocaleCode != "" {
		out["locale_code"] = c.LocaleCode
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts expires as an integer, a float, or a numeric string,
// truncating to whole seconds.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("credential must be a JSON object")
	}
	var out Credential
	for key, value := range raw {
		if _, known := credentialKeys[key]; !known {
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = value
			continue
		}
		var err error
		switch key {
		case "access_token":
			out.AccessToken, err = decodeString(value)
		case "refresh_token":
			out.RefreshToken, err = decodeString(value)
		case "activation_bytes":
			out.ActivationBytes, err = decodeString(value)
			out.ActivationBytes = strings.ToLower(out.ActivationBytes)
		case "device_serial":
			out.DeviceSerial, err = decodeString(value)
		case "locale_code":
			out.LocaleCode, err = decodeString(value)
			out.LocaleCode = strings.ToLower(out.LocaleCode)
		case "expires":
			out.Expires, err = decodeEpoch(value)
		}
		if err != nil {
			return fmt.Errorf("credential %s: %w", key, err)
		}
	}
	if out.DeviceSerial == "" {
		out.DeviceSerial = serialFromDeviceInfo(out.Extra["device_info"])
	}
	*c = out
	return nil
}

// AccountKey identifies the account for refresh serialization. The device
// serial is preferred; otherwise a digest of the refresh token is used so the
// secret itself never becomes a map key or log field.
func (c Credential) AccountKey() string {
	if c.DeviceSerial != "" {
		return "serial:" + c.DeviceSerial
	}
	return "token:" + TokenDigest(c.RefreshToken)
}

// TokenDigest is the hex SHA-256 of a token.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy so callers can mutate the result safely.
func (c Credential) Clone() Credential {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func decodeString(value json.RawMessage) (string, error) {
	if string(value) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func decodeEpoch(value json.RawMessage) (int64, error) {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return 0, err
	}
	switch typed := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return truncateEpoch(typed)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", typed)
		}
		return truncateEpoch(f)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func truncateEpoch(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64/2 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int64(f), nil
}

func serialFromDeviceInfo(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var info struct {
		Serial string `json:"device_serial_number"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return ""
	}
	return strings.TrimSpace(info.Serial)
}
