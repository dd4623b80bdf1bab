package webpush

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ErrMalformedSignature is returned when an ECDSA signature cannot be converted
var ErrMalformedSignature = errors.New("webpush: malformed DER signature")

// DERToRaw converts an ASN.1 DER ECDSA signature into the fixed-length r||s
// form used by JWS, each coordinate left-padded to size bytes. An input that
// is already exactly 2*size bytes is returned unchanged.
func DERToRaw(sig []byte, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("webpush: invalid coordinate size %d", size)
	}
	if len(sig) == 2*size {
		out := make([]byte, len(sig))
		copy(out, sig)
		return out, nil
	}

	var (
		input = cryptobyte.String(sig)
		seq   cryptobyte.String
		r, s  cryptobyte.String
	)
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, ErrMalformedSignature
	}
	if !seq.ReadASN1(&r, asn1.INTEGER) || !seq.ReadASN1(&s, asn1.INTEGER) || !seq.Empty() {
		return nil, ErrMalformedSignature
	}

	out := make([]byte, 2*size)
	if err := putCoordinate(out[:size], r); err != nil {
		return nil, err
	}
	if err := putCoordinate(out[size:], s); err != nil {
		return nil, err
	}
	return out, nil
}

// putCoordinate strips sign-padding zeros and right-aligns v in dst
func putCoordinate(dst []byte, v []byte) error {
	if len(v) == 0 {
		return ErrMalformedSignature
	}
	for len(v) > len(dst) && v[0] == 0x00 {
		v = v[1:]
	}
	if len(v) > len(dst) {
		return fmt.Errorf("%w: coordinate is %d bytes, want at most %d", ErrMalformedSignature, len(v), len(dst))
	}
	copy(dst[len(dst)-len(v):], v)
	return nil
}
