package cos

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrQuantityUsage   = errors.New("invalid quantity, format should be '81%' or '1mbit'")
	ErrQuantityPercent = errors.New("percent must be in the range [0, 100]")
)

// MTU is the assumed link MTU used to compute the default burst size
// per the topology loader's burst formula.
const MTU = 1500

// ParsePercent parses a "NN%" or bare "NN" string into a float64 percentage.
func ParsePercent(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrQuantityUsage, s)
	}
	if v < 0 || v > 100 {
		return 0, ErrQuantityPercent
	}
	return v, nil
}

// FormatPercent renders a percentage the way the kernel shaping layer does.
func FormatPercent(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%%", int64(v))
	}
	return fmt.Sprintf("%g%%", v)
}

// ParseMillis parses a "NNms" duration string into an integer millisecond
// count, per the Shaping Tuple's "delay" and "buffer" fields.
func ParseMillis(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "ms"))
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrQuantityUsage, s)
	}
	return v, nil
}

func FormatMillis(v int) string { return fmt.Sprintf("%dms", v) }

// ParseMbit parses a "NNmbit" bandwidth string into a kbps integer.
func ParseMbit(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "mbit"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrQuantityUsage, s)
	}
	return int(v * 1000), nil
}

func FormatMbit(kbps int) string {
	return fmt.Sprintf("%gmbit", float64(kbps)/1000)
}

// ParseBits parses a bare integer bit-count string (the "burst" field).
func ParseBits(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrQuantityUsage, s)
	}
	return v, nil
}

func FormatBits(v int64) string { return strconv.FormatInt(v, 10) }

// DefaultBurst computes burst = max(0.1*bandwidth_bps, 10*MTU*8) bits,
// per the topology loader's link-file defaulting rule.
func DefaultBurst(bandwidthKbps int) int64 {
	bps := float64(bandwidthKbps) * 1000
	fromBW := int64(0.1 * bps)
	fromMTU := int64(10 * MTU * 8)
	if fromBW > fromMTU {
		return fromBW
	}
	return fromMTU
}
