package fscrypt

import (
	"crypto/rand"
	"fmt"
	"testing"
)

// Benchmark software path throughput, sequential and parallel
func BenchmarkEncryptUnits(b *testing.B) {
	sizes := []int{
		DataUnitSize,     // one unit
		64 * 1024,        // 64 KB
		1024 * 1024,      // 1 MB
		10 * 1024 * 1024, // 10 MB
	}

	configs := []struct {
		name     string
		parallel ParallelConfig
	}{
		{"Sequential", ParallelConfig{}},
		{"Parallel", DefaultParallelConfig()},
	}

	for _, cfg := range configs {
		for _, size := range sizes {
			b.Run(cfg.name+"/"+formatSize(size), func(b *testing.B) {
				benchmarkEncryptUnits(b, cfg.parallel, size)
			})
		}
	}
}

func benchmarkEncryptUnits(b *testing.B, parallel ParallelConfig, size int) {
	key := make([]byte, ModeAES256XTS.KeySize())
	rand.Read(key)
	c, err := NewSoftwareCipher(&CryptInfo{ContentsMode: ModeAES256XTS, RawKey: key}, 12)
	if err != nil {
		b.Fatalf("failed to create cipher: %v", err)
	}
	c.parallel = parallel

	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		b.Fatalf("failed to generate test data: %v", err)
	}
	out := make([]byte, size)

	b.SetBytes(int64(size))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := c.EncryptUnits(out, data, 0); err != nil {
			b.Fatalf("encryption failed: %v", err)
		}
	}
}

// Benchmark the consistency check with keys resolved and from records
func BenchmarkPermitted(b *testing.B) {
	for _, cached := range []bool{true, false} {
		name := "Records"
		if cached {
			name = "Resolved"
		}
		b.Run(name, func(b *testing.B) {
			env := setupTestVolume(b, nil)
			dir, _ := env.vol.Mkdir("/d", 0755)
			if err := env.vol.SetPolicy(dir, testPolicy()); err != nil {
				b.Fatalf("SetPolicy failed: %v", err)
			}
			file, err := env.vol.Create("/d/f")
			if err != nil {
				b.Fatalf("Create failed: %v", err)
			}
			if !cached {
				env.keys.Remove(testDescriptor)
				env.vol.Cache().Evict(dir.Ino())
				env.vol.Cache().Evict(file.Ino())
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if !env.vol.Permitted(dir, file) {
					b.Fatal("Permitted() = false")
				}
			}
		})
	}
}

// Benchmark object creation inside an encrypted directory
func BenchmarkCreateInherit(b *testing.B) {
	env := setupTestVolume(b, nil)
	dir, _ := env.vol.Mkdir("/d", 0755)
	if err := env.vol.SetPolicy(dir, testPolicy()); err != nil {
		b.Fatalf("SetPolicy failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.vol.Create(fmt.Sprintf("/d/f%d", i)); err != nil {
			b.Fatalf("Create failed: %v", err)
		}
	}
}

// Benchmark Argon2id passphrase derivation
func BenchmarkArgon2id_KeyDerivation(b *testing.B) {
	params := Argon2idParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
	salt := make([]byte, 32)
	rand.Read(salt)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewPassphraseKeySource([]byte("benchmark-password"), salt, params); err != nil {
			b.Fatalf("derivation failed: %v", err)
		}
	}
}

func formatSize(size int) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%dMB", size/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%dKB", size/1024)
	default:
		return fmt.Sprintf("%dB", size)
	}
}
