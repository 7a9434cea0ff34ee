// pool.go: Buffer pooling sized for capsule codec and AEAD scratch space
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"sync"
)

// Pool tiers match the three buffer shapes capsule processing needs: AAD and
// header scratch (under 128 bytes), fingerprint material (up to 4 KiB), and
// whole encoded capsules (header + bounded payload + tag).
var (
	scratchBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 128)
			return &buf
		},
	}

	fingerprintBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 4*1024)
			return &buf
		},
	}

	capsuleBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, capsuleHeaderLen+MaxPayloadBytes+TagLen)
			return &buf
		},
	}

	// Dynamic slices for append-style encoding paths - pointers avoid
	// per-Put allocations (SA6002).
	dynamicBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, 256)
			return &buf
		},
	}
)

func init() {
	// Pre-warm pools so the first capsule does not pay cold-start latency.
	WarmupPools(4)
}

// getBuffer retrieves a buffer from the appropriate pool based on size.
func getBuffer(size int) *[]byte {
	switch {
	case size <= 128:
		buf := scratchBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	case size <= 4*1024:
		buf := fingerprintBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	case size <= capsuleHeaderLen+MaxPayloadBytes+TagLen:
		buf := capsuleBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	default:
		buf := make([]byte, size)
		return &buf
	}
}

// putBuffer zeroizes and returns a buffer to its pool. Buffers that may have
// held plaintext or key-adjacent material are always cleared before reuse.
func putBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	if len(*buf) > 0 {
		Zeroize(*buf)
	}
	switch cap(*buf) {
	case 128:
		scratchBufferPool.Put(buf)
	case 4 * 1024:
		fingerprintBufferPool.Put(buf)
	case capsuleHeaderLen + MaxPayloadBytes + TagLen:
		capsuleBufferPool.Put(buf)
		// Non-standard capacities are dropped for the GC.
	}
}

// getDynamicBuffer retrieves a growable buffer with zero length.
func getDynamicBuffer() []byte {
	buf := dynamicBufferPool.Get().(*[]byte)
	return (*buf)[:0]
}

// putDynamicBuffer zeroizes a dynamic buffer up to capacity and returns it to
// the pool. Oversized buffers are dropped so the pool stays cache-friendly.
func putDynamicBuffer(buf []byte) {
	bufCap := cap(buf)
	if bufCap == 0 {
		return
	}
	Zeroize(buf[:bufCap])
	if bufCap >= 128 && bufCap <= 4*1024 {
		dynamicBufferPool.Put(&buf)
	}
}

// WarmupPools pre-allocates buffers in every pool to reduce cold latency.
func WarmupPools(count int) {
	scratch := make([]*[]byte, count)
	fingerprint := make([]*[]byte, count)
	capsule := make([]*[]byte, count)
	dynamic := make([][]byte, count)

	for i := 0; i < count; i++ {
		scratch[i] = getBuffer(128)
		fingerprint[i] = getBuffer(4 * 1024)
		capsule[i] = getBuffer(capsuleHeaderLen + MaxPayloadBytes + TagLen)
		dynamic[i] = getDynamicBuffer()
	}
	for i := 0; i < count; i++ {
		putBuffer(scratch[i])
		putBuffer(fingerprint[i])
		putBuffer(capsule[i])
		putDynamicBuffer(dynamic[i])
	}
}
