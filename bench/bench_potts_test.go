package bench

import (
	"testing"
)

func BenchmarkPottsLogProb(b *testing.B) {
	m := benchModel(8, 4)
	x := benchBatch(64, 8, 4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.LogProb(x)
	}
}

func BenchmarkPottsGrad(b *testing.B) {
	m := benchModel(8, 4)
	x := benchBatch(64, 8, 4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Grad(x)
	}
}
