package knx

import "testing"

func BenchmarkDecodeDPT1(b *testing.B) {
	data := []byte{0x01}
	for i := 0; i < b.N; i++ {
		Decode(data, DPTSwitch, 1) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT9(b *testing.B) {
	data := []byte{0x0C, 0x3D}
	for i := 0; i < b.N; i++ {
		Decode(data, DPTTemperature, 9) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT14(b *testing.B) {
	data := []byte{0x41, 0xAC, 0x00, 0x00}
	for i := 0; i < b.N; i++ {
		Decode(data, DPTPower, 14) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecodeDPT16(b *testing.B) {
	data := []byte{'G', 'r', 0xFC, 0xDF, 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < b.N; i++ {
		Decode(data, DPTStringLatin1, 16) //nolint:errcheck // benchmark
	}
}
