package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"airdrop/offchain/internal/errs"
)

// ParseAddress validates a 0x-prefixed 20-byte hex address. All-lower and
// all-upper input is accepted as is; mixed case must be a valid EIP-55
// checksum so a mistyped character is caught rather than silently accepted.
func ParseAddress(s string) (common.Address, error) {
	const op = "parse address"

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, errs.Reasonf(errs.KindInvalidInput, op, "address %q must start with 0x", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.Reasonf(errs.KindInvalidInput, op, "invalid address %q", s)
	}

	addr := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex()[2:] != body {
		return common.Address{}, errs.Reasonf(errs.KindInvalidInput, op, "address %q has an invalid checksum", s)
	}
	if addr == (common.Address{}) {
		return common.Address{}, errs.Reasonf(errs.KindInvalidInput, op, "zero address is not allowed")
	}
	return addr, nil
}
