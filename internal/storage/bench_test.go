package storage

import (
	"fmt"
	"testing"
)

func Benchmark_Get(b *testing.B) {
	e, _ := setupTempEngine(b, WithCompactionEnabled(false))

	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("k%04d", i)
		if _, _, err := e.Set(key, "v"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Get("k0050"); err != nil {
			b.Fatalf("Get: %v", err)
		}
	}
}

func Benchmark_Set(b *testing.B) {
	e, _ := setupTempEngine(b, WithCompactionEnabled(false))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%04d", i%10000)
		if _, _, err := e.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}

func Benchmark_Fsync_Set(b *testing.B) {
	e, _ := setupTempEngine(b, WithCompactionEnabled(false), WithFsync(true))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%04d", i%10000)
		if _, _, err := e.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}

func Benchmark_Compact(b *testing.B) {
	e, _ := setupTempEngine(b, WithLogMaxSize(4096), WithCompactionEnabled(false))

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("k%04d", i%200)
		if _, _, err := e.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Compact(); err != nil {
			b.Fatalf("Compact: %v", err)
		}
	}
}
