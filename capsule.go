// capsule.go: Capsule wire format v1 codec and AAD construction.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"encoding/binary"
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// Capsule wire format v1, all integers little-endian:
//
//	version          1 byte
//	profile_id       8 bytes
//	server_env_hash  32 bytes
//	client_nonce     24 bytes
//	rtt_bucket       1 byte
//	path_hint        2 bytes
//	timestamp        8 bytes (unix seconds)
//	aead_nonce       12 bytes
//	ciphertext_len   4 bytes (u32)
//	ciphertext       ciphertext_len bytes
//	tag              16 bytes
//
// Every header field above the ciphertext participates in the AAD, so a
// decoded header is never trusted until the AEAD tag verifies.
const (
	capsuleHeaderLen = 1 + 8 + EnvHashLen + ClientNonceLen + 1 + 2 + 8 + AeadNonceLen

	// capsuleMinLen is a header plus the length field and tag with an empty
	// ciphertext.
	capsuleMinLen = capsuleHeaderLen + 4 + TagLen
)

// CapsuleHeader carries the cleartext binding fields of a capsule. The fields
// are authenticated through the AAD but not encrypted.
type CapsuleHeader struct {
	Version     ProtocolVersion
	ProfileID   ServerProfileID
	EnvHash     ServerEnvHash
	ClientNonce ClientNonce
	NetCtx      NetworkContext
	// Timestamp is the sender's unix time in seconds. Negative values are
	// rejected on both encode and decode.
	Timestamp int64
}

// Validate performs the structural checks that run before any cryptographic
// work: version knowledge, network context bounds, and timestamp sign.
func (h *CapsuleHeader) Validate() error {
	if !h.Version.Known() {
		richErr := goerrors.New(ErrCodeVersion, fmt.Sprintf("unknown protocol version %d", h.Version))
		return fmt.Errorf("%w: %w", ErrVersionRejected, richErr)
	}
	if err := h.NetCtx.Validate(); err != nil {
		return err
	}
	if h.Timestamp < 0 {
		richErr := goerrors.New(ErrCodeInvalidTime, fmt.Sprintf("timestamp %d is negative", h.Timestamp))
		return fmt.Errorf("%w: %w", ErrInvalidTimestamp, richErr)
	}
	return nil
}

// appendAAD appends the canonical additional-authenticated-data encoding for
// this header to dst: the AAD domain label followed by every header field in
// wire order. The AEAD nonce is not part of the AAD; GCM authenticates it
// implicitly.
func (h *CapsuleHeader) appendAAD(dst []byte) []byte {
	dst = append(dst, aadDomain...)
	dst = append(dst, byte(h.Version))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.ProfileID))
	dst = append(dst, h.EnvHash[:]...)
	dst = append(dst, h.ClientNonce[:]...)
	dst = append(dst, h.NetCtx.RTTBucket)
	dst = binary.LittleEndian.AppendUint16(dst, h.NetCtx.PathHint)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Timestamp))
	return dst
}

// Capsule is a fully parsed wire capsule. Ciphertext excludes the tag; the
// two are adjacent on the wire but kept separate here so codec bounds stay
// explicit.
type Capsule struct {
	Header     CapsuleHeader
	AeadNonce  [AeadNonceLen]byte
	Ciphertext []byte
	Tag        [TagLen]byte
}

// EncodedLen returns the exact byte length Encode will produce.
func (c *Capsule) EncodedLen() int {
	return capsuleHeaderLen + 4 + len(c.Ciphertext) + TagLen
}

// Encode serializes the capsule into a freshly allocated byte slice.
//
// Encoding is canonical: for a given capsule there is exactly one byte
// sequence, and Decode(Encode(c)) reproduces c field for field.
func (c *Capsule) Encode() ([]byte, error) {
	if err := c.Header.Validate(); err != nil {
		return nil, err
	}
	if len(c.Ciphertext) > MaxPayloadBytes {
		richErr := goerrors.New(ErrCodePayloadTooLarge, fmt.Sprintf("ciphertext is %d bytes, bound is %d", len(c.Ciphertext), MaxPayloadBytes))
		return nil, fmt.Errorf("%w: %w", ErrPayloadTooLarge, richErr)
	}

	out := make([]byte, 0, c.EncodedLen())
	out = append(out, byte(c.Header.Version))
	out = binary.LittleEndian.AppendUint64(out, uint64(c.Header.ProfileID))
	out = append(out, c.Header.EnvHash[:]...)
	out = append(out, c.Header.ClientNonce[:]...)
	out = append(out, c.Header.NetCtx.RTTBucket)
	out = binary.LittleEndian.AppendUint16(out, c.Header.NetCtx.PathHint)
	out = binary.LittleEndian.AppendUint64(out, uint64(c.Header.Timestamp))
	out = append(out, c.AeadNonce[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(c.Ciphertext)))
	out = append(out, c.Ciphertext...)
	out = append(out, c.Tag[:]...)
	return out, nil
}

// DecodeCapsule parses a wire capsule with strict bounds.
//
// Truncated input, a ciphertext length that disagrees with the actual buffer,
// and trailing bytes are all rejected with ErrInvalidHeader before any
// cryptographic work. An unknown version byte fails first with
// ErrVersionRejected so operators can tell format skew from corruption.
func DecodeCapsule(data []byte) (*Capsule, error) {
	if len(data) < capsuleMinLen {
		richErr := goerrors.New(ErrCodeInvalidHeader, fmt.Sprintf("capsule is %d bytes, minimum is %d", len(data), capsuleMinLen))
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, richErr)
	}

	version := ProtocolVersion(data[0])
	if !version.Known() {
		richErr := goerrors.New(ErrCodeVersion, fmt.Sprintf("unknown protocol version %d", version))
		return nil, fmt.Errorf("%w: %w", ErrVersionRejected, richErr)
	}

	var c Capsule
	c.Header.Version = version
	off := 1
	c.Header.ProfileID = ServerProfileID(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	copy(c.Header.EnvHash[:], data[off:off+EnvHashLen])
	off += EnvHashLen
	copy(c.Header.ClientNonce[:], data[off:off+ClientNonceLen])
	off += ClientNonceLen
	c.Header.NetCtx.RTTBucket = data[off]
	off++
	c.Header.NetCtx.PathHint = binary.LittleEndian.Uint16(data[off:])
	off += 2
	rawTS := binary.LittleEndian.Uint64(data[off:])
	off += 8
	if rawTS > uint64(1<<63-1) {
		richErr := goerrors.New(ErrCodeInvalidTime, "timestamp not representable")
		return nil, fmt.Errorf("%w: %w", ErrInvalidTimestamp, richErr)
	}
	c.Header.Timestamp = int64(rawTS)
	copy(c.AeadNonce[:], data[off:off+AeadNonceLen])
	off += AeadNonceLen

	ctLen := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if ctLen > MaxPayloadBytes {
		richErr := goerrors.New(ErrCodeInvalidHeader, fmt.Sprintf("declared ciphertext length %d exceeds bound %d", ctLen, MaxPayloadBytes))
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, richErr)
	}
	want := off + int(ctLen) + TagLen
	if len(data) != want {
		richErr := goerrors.New(ErrCodeInvalidHeader, fmt.Sprintf("capsule is %d bytes, layout requires %d", len(data), want))
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, richErr)
	}

	c.Ciphertext = make([]byte, ctLen)
	copy(c.Ciphertext, data[off:off+int(ctLen)])
	off += int(ctLen)
	copy(c.Tag[:], data[off:])

	if err := c.Header.NetCtx.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
