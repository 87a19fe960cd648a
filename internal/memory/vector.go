package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector blobs store a 4-byte little-endian dimension header followed by the
// float32 values. Everything in the embeddings table uses this layout.

const vectorHeaderLen = 4

func encodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("encode vector: empty")
	}

	blob := make([]byte, vectorHeaderLen+4*len(vector))
	binary.LittleEndian.PutUint32(blob, uint32(len(vector)))
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("encode vector: non-finite value at %d", i)
		}
		binary.LittleEndian.PutUint32(blob[vectorHeaderLen+4*i:], math.Float32bits(v))
	}
	return blob, nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) < vectorHeaderLen {
		return nil, fmt.Errorf("decode vector: blob too short (%d bytes)", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob))
	if dim <= 0 || len(blob) != vectorHeaderLen+4*dim {
		return nil, fmt.Errorf("decode vector: dim %d does not match payload %d", dim, len(blob)-vectorHeaderLen)
	}

	vector := make([]float32, dim)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[vectorHeaderLen+4*i:]))
	}
	return vector, nil
}

// cosineSimilarity returns raw cosine in [-1,1].
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: dimension mismatch %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cosine similarity: zero-norm vector")
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, score)), nil
}

// normalizeSimilarity maps cosine [-1,1] onto [0,1], higher is more similar.
func normalizeSimilarity(cosine float64) float64 {
	return (cosine + 1) / 2
}
