package shm

import (
	"strings"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
)

const (
	carNoPayloadLen = 8 // 3 digits, then zeroed bytes up to the next block
	axlePayloadLen  = 7 // 3 digits, 2 spare, rotation, position
)

// EncodeCarNo renders a car number as the 3 ASCII bytes of the mailbox.
// Digits are kept, short values are left-padded with 'F' and long ones cut
// to three. Empty and "NONE" become "FFF".
func EncodeCarNo(carNo string) []byte {
	s := strings.TrimSpace(carNo)
	if s == "" || strings.EqualFold(s, domain.CarNoNone) {
		return []byte(domain.CarNoUnknown)
	}
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) == 0 {
		return []byte(domain.CarNoUnknown)
	}
	if len(digits) >= 3 {
		return digits[:3]
	}
	return append([]byte(strings.Repeat("F", 3-len(digits))), digits...)
}

// DecodeCarNo reads 3 ASCII bytes. Anything but a digit or 'F' reads as 'F'.
func DecodeCarNo(b []byte) string {
	out := []byte(domain.CarNoUnknown)
	for i := 0; i < 3 && i < len(b); i++ {
		c := b[i]
		switch {
		case c >= '0' && c <= '9':
			out[i] = c
		case c == 'f':
			out[i] = 'F'
		}
	}
	return string(out)
}

// EncodeAxle builds an axle mailbox payload.
func EncodeAxle(carNo string, rot, pos domain.WheelCode) []byte {
	p := make([]byte, axlePayloadLen)
	copy(p, EncodeCarNo(carNo))
	p[5] = byte(rot)
	p[6] = byte(pos)
	return p
}

// DecodeAxle turns an axle mailbox payload into a wheel report without the
// station fields filled in.
func DecodeAxle(p []byte) (carNo string, rot, pos domain.WheelCode) {
	if len(p) < axlePayloadLen {
		return domain.CarNoUnknown, domain.WheelUndetected, domain.WheelUndetected
	}
	return DecodeCarNo(p[:3]), domain.NormalizeWheelCode(p[5]), domain.NormalizeWheelCode(p[6])
}

// WriteCarNo hands the finished car number to the station process.
func (r *Region) WriteCarNo(carNo string, block bool, timeout time.Duration) (bool, error) {
	return r.TryWrite(r.layout.NewCarNo, EncodeCarNo(carNo), block, timeout)
}
