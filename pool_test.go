// pool_test.go: Test cases for buffer pooling internals.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"sync"
	"testing"
)

func TestGetBuffer_TierSelection(t *testing.T) {
	cases := []struct {
		size    int
		wantCap int
	}{
		{1, 128},
		{128, 128},
		{129, 4 * 1024},
		{4 * 1024, 4 * 1024},
		{4*1024 + 1, capsuleHeaderLen + MaxPayloadBytes + TagLen},
		{capsuleHeaderLen + MaxPayloadBytes + TagLen, capsuleHeaderLen + MaxPayloadBytes + TagLen},
	}
	for _, tc := range cases {
		buf := getBuffer(tc.size)
		if len(*buf) != tc.size {
			t.Errorf("getBuffer(%d): len = %d", tc.size, len(*buf))
		}
		if cap(*buf) != tc.wantCap {
			t.Errorf("getBuffer(%d): cap = %d, want %d", tc.size, cap(*buf), tc.wantCap)
		}
		putBuffer(buf)
	}
}

func TestGetBuffer_OversizedFallsBackToAlloc(t *testing.T) {
	size := capsuleHeaderLen + MaxPayloadBytes + TagLen + 1
	buf := getBuffer(size)
	if len(*buf) != size {
		t.Errorf("oversized buffer len = %d, want %d", len(*buf), size)
	}
	// Oversized buffers are never pooled; putBuffer must not panic on them.
	putBuffer(buf)
}

func TestPutBuffer_Zeroizes(t *testing.T) {
	buf := getBuffer(128)
	for i := range *buf {
		(*buf)[i] = 0xFF
	}
	putBuffer(buf)

	// The returned buffer may or may not be the same allocation, but any
	// pooled buffer must come back clean.
	again := getBuffer(128)
	defer putBuffer(again)
	for i, b := range *again {
		if b != 0 {
			t.Fatalf("pooled buffer byte %d = %#x, want 0", i, b)
		}
	}
}

func TestPutBuffer_NilIsNoop(t *testing.T) {
	putBuffer(nil)
}

func TestDynamicBuffer_RoundTrip(t *testing.T) {
	buf := getDynamicBuffer()
	if len(buf) != 0 {
		t.Fatalf("dynamic buffer len = %d, want 0", len(buf))
	}
	buf = append(buf, 0xDE, 0xAD, 0xBE, 0xEF)
	putDynamicBuffer(buf)

	again := getDynamicBuffer()
	defer putDynamicBuffer(again)
	if len(again) != 0 {
		t.Errorf("reused dynamic buffer len = %d, want 0", len(again))
	}
	spare := again[:cap(again)]
	for i, b := range spare {
		if b != 0 {
			t.Fatalf("dynamic buffer spare byte %d = %#x, want 0", i, b)
		}
	}
}

func TestPutDynamicBuffer_DropsOversized(t *testing.T) {
	putDynamicBuffer(make([]byte, 0, 64*1024))
	putDynamicBuffer(nil)
}

func TestWarmupPools(t *testing.T) {
	WarmupPools(8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := getBuffer(128)
				(*buf)[0] = 1
				putBuffer(buf)

				dyn := getDynamicBuffer()
				dyn = append(dyn, 1, 2, 3)
				putDynamicBuffer(dyn)
			}
		}()
	}
	wg.Wait()
}
