// Package crock implements the Crockford base32 encoding used for keys,
// hashes and signatures exchanged with the payment system.
package crock

import (
	"encoding/base32"
	"errors"
	"strings"
)

const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	encoding = base32.NewEncoding(alphabet).WithPadding(base32.NoPadding)

	ErrInvalidEncoding = errors.New("invalid crockford base32 string")
)

func Encode(buf []byte) string {
	return encoding.EncodeToString(buf)
}

// Decode accepts lowercase input and the usual substitutions for the
// symbols excluded from the alphabet.
func Decode(str string) ([]byte, error) {
	buf, err := encoding.DecodeString(normalize(str))
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	return buf, nil
}

func normalize(str string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 'o', 'O':
			return '0'
		case 'i', 'I', 'l', 'L':
			return '1'
		case 'u', 'U':
			return 'V'
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, str)
}
