package util

import (
	"bytes"
	"context"
	"testing"
)

// BenchmarkForwardReader measures the chunking loop used to feed
// stdin into a device session.
func BenchmarkForwardReader(b *testing.B) {
	payload := bytes.Repeat([]byte("X"), 64*1024)
	sink := func([]byte) error { return nil }

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ForwardReader(context.Background(), bytes.NewReader(payload), sink) //nolint:errcheck
	}
}

func BenchmarkToHex(b *testing.B) {
	payload := bytes.Repeat([]byte{0xa5}, 256)
	for i := 0; i < b.N; i++ {
		_ = ToHex(payload)
	}
}
