package audible

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"audibridge/internal/media/proc"
	"audibridge/internal/services"
)

var voucherKeyPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// VoucherRequest carries what a voucher is bound to.
type VoucherRequest struct {
	ASIN         string
	DeviceSerial string
	DeviceType   string
	Voucher      []byte
}

// VoucherKey is the per-download AAXC decryption pair, lowercase hex.
type VoucherKey struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

// KeyDeriver performs the vendor-private derivations. Implementations must be
// deterministic: the same registration material always yields the same
// activation bytes.
type KeyDeriver interface {
	ActivationBytes(ctx context.Context, material []byte) (string, error)
	Voucher(ctx context.Context, req VoucherRequest) (VoucherKey, error)
}

// CommandDeriver delegates derivation to an external helper program:
//
//	<binary> [args...] activation-bytes          (material on stdin, 8 hex chars on stdout)
//	<binary> [args...] voucher --asin A --device-serial S --device-type T
//	                                              (voucher on stdin, {"key","iv"} JSON on stdout)
type CommandDeriver struct {
	Runner proc.Runner
	Binary string
	Args   []string
}

// ActivationBytes runs the helper and validates its answer.
func (d CommandDeriver) ActivationBytes(ctx context.Context, material []byte) (string, error) {
	out, err := d.run(ctx, "activation_bytes", material, "activation-bytes")
	if err != nil {
		return "", err
	}
	value := strings.ToLower(strings.TrimSpace(string(out)))
	if !ValidActivationBytes(value) {
		return "", services.Wrap(services.ErrAuthFailed, "keyhelper", "activation_bytes", "helper returned malformed activation bytes", nil)
	}
	return value, nil
}

// Voucher runs the helper and validates the key/IV pair.
func (d CommandDeriver) Voucher(ctx context.Context, req VoucherRequest) (VoucherKey, error) {
	out, err := d.run(ctx, "voucher", req.Voucher, "voucher",
		"--asin", req.ASIN,
		"--device-serial", req.DeviceSerial,
		"--device-type", req.DeviceType,
	)
	if err != nil {
		return VoucherKey{}, err
	}
	var key VoucherKey
	if err := json.Unmarshal(bytes.TrimSpace(out), &key); err != nil {
		return VoucherKey{}, services.Wrap(services.ErrAuthFailed, "keyhelper", "voucher", "helper returned malformed JSON", err)
	}
	key.Key = strings.ToLower(strings.TrimSpace(key.Key))
	key.IV = strings.ToLower(strings.TrimSpace(key.IV))
	if !voucherKeyPattern.MatchString(key.Key) || !voucherKeyPattern.MatchString(key.IV) {
		return VoucherKey{}, services.Wrap(services.ErrAuthFailed, "keyhelper", "voucher", "helper returned malformed key or iv", nil)
	}
	return key, nil
}

func (d CommandDeriver) run(ctx context.Context, op string, stdin []byte, sub ...string) ([]byte, error) {
	if d.Binary == "" {
		return nil, fmt.Errorf("keyhelper %s: no helper binary configured", op)
	}
	runner := d.Runner
	if runner == nil {
		runner = proc.ExecRunner{}
	}
	args := append(append([]string(nil), d.Args...), sub...)
	res, err := runner.Run(ctx, proc.Command{Binary: d.Binary, Args: args, Stdin: bytes.NewReader(stdin)})
	if err != nil {
		return nil, fmt.Errorf("keyhelper %s: %w", op, err)
	}
	if res.ExitCode != 0 {
		return nil, services.Wrap(services.ErrAuthFailed, "keyhelper", op,
			fmt.Sprintf("exit status %d: %s", res.ExitCode, proc.LastLine(res.Stderr)), nil)
	}
	return res.Stdout, nil
}
