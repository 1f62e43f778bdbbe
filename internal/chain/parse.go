package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates a hex address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// NormalizeAddress returns the checksum form of a hex address.
func NormalizeAddress(input string) (string, error) {
	addr, err := ParseAddress(input)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
