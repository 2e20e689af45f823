package ton

import (
	"fmt"
	"math/big"
	"strings"
)

const NanoPerTON = 1_000_000_000

var maxNano = big.NewInt(0).SetUint64(1 << 62)

// ParseNano parses a strict non-negative integer nanoTON string.
// No signs, no decimals, no whitespace tolerance beyond trimming.
func ParseNano(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid nano amount %q: must be a non-negative integer", s)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Cmp(maxNano) > 0 {
		return 0, fmt.Errorf("invalid nano amount %q", s)
	}
	return n.Int64(), nil
}

// ParseTON converts a decimal TON string (e.g. "5.5") to nanoTON.
// 1 TON = 1_000_000_000 nanoTON.
func ParseTON(tonStr string) (int64, error) {
	tonStr = strings.TrimSpace(tonStr)
	if tonStr == "" {
		return 0, fmt.Errorf("empty TON amount")
	}

	parts := strings.Split(tonStr, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid TON amount: %s", tonStr)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}

	if len(frac) > 9 {
		frac = frac[:9]
	}
	for len(frac) < 9 {
		frac += "0"
	}

	nano, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || nano.Sign() < 0 || nano.Cmp(maxNano) > 0 {
		return 0, fmt.Errorf("invalid TON amount: %s", tonStr)
	}
	return nano.Int64(), nil
}

// FormatTON renders nanoTON as a decimal TON string for logs and messages.
func FormatTON(nano int64) string {
	neg := nano < 0
	if neg {
		nano = -nano
	}
	whole := nano / NanoPerTON
	frac := nano % NanoPerTON
	s := fmt.Sprintf("%d", whole)
	if frac > 0 {
		s = fmt.Sprintf("%d.%09d", whole, frac)
		s = strings.TrimRight(s, "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}
