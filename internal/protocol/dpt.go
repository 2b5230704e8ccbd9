package protocol

import (
	"fmt"
	"math"
)

// KNX datapoint types used by the knx backend.
//
//	DPT 1.001  switch          1 byte, bit 0
//	DPT 5.001  percent 0-100   1 byte, scaled to 0-255
//	DPT 9.001  temperature °C  2 bytes, 16-bit float (sign, 4-bit exponent, 11-bit mantissa)
const (
	dpt5MaxValue     = 255
	dpt9MaxExponent  = 15
	dpt9MantissaMax  = 2047
	dpt9MantissaMask = 0x07FF
	dpt9Invalid      = 0x7FFF
	dpt9Min          = -671088.64
	dpt9Max          = 670760.96
)

func encodeDPT1(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func decodeDPT1(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0]&0x01 == 0x01, nil
}

// encodeDPT5 scales a percentage onto 0-255. Percentages are validated by
// the caller.
func encodeDPT5(percent int64) []byte {
	return []byte{uint8(math.Round(float64(percent) * dpt5MaxValue / 100))} //nolint:gosec // percent is 0-100
}

// decodeDPT5 returns the whole percentage nearest to the raw byte. For bytes
// produced by encodeDPT5 this recovers the original percentage exactly.
func decodeDPT5(data []byte) (int64, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return int64(math.Round(float64(data[0]) * 100 / dpt5MaxValue)), nil
}

func encodeDPT9(value float64) ([]byte, error) {
	if math.IsNaN(value) || value < dpt9Min || value > dpt9Max {
		return nil, fmt.Errorf("%w: DPT9 value out of range: %.2f", ErrMalformed, value)
	}

	var sign uint16
	if value < 0 {
		sign = 0x8000
		value = -value
	}

	exp := 0
	mantissa := math.Round(value * 100)
	for mantissa > dpt9MantissaMax {
		exp++
		mantissa = math.Round(value * 100 / math.Pow(2, float64(exp)))
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for %.2f", ErrMalformed, value)
	}

	m := int16(mantissa)
	if sign != 0 {
		m = -m
	}

	encoded := sign | (uint16(exp) << 11) | (uint16(m) & dpt9MantissaMask) //nolint:gosec // exp bounded
	return []byte{byte(encoded >> 8), byte(encoded)}, nil
}

// encodeDPT9Exact encodes value only if the 2-byte float reproduces it.
// Commands use it so the acknowledged setpoint always equals the requested
// one; measured values from devices may still be rounded by encodeDPT9.
func encodeDPT9Exact(value float64) ([]byte, error) {
	data, err := encodeDPT9(value)
	if err != nil {
		return nil, err
	}
	got, err := decodeDPT9(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if got != value {
		return nil, fmt.Errorf("%w: DPT9 cannot represent %v exactly (nearest %v)", ErrMalformed, value, got)
	}
	return data, nil
}

// decodeDPT9 returns the value rounded to the 0.01 resolution of the format.
func decodeDPT9(data []byte) (float64, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}

	exp := (raw >> 11) & 0x0F
	mantissa := int16(raw & dpt9MantissaMask) //nolint:gosec // 11-bit value
	if raw&0x8000 != 0 {
		mantissa |= -0x800
	}

	v := float64(mantissa) * 0.01 * math.Pow(2, float64(exp))
	return math.Round(v*100) / 100, nil
}
