package memory

import (
	"encoding/binary"
	"math"
)

// float32SliceToBlob serialises a float32 slice to a little-endian byte blob.
// This is the format expected by sqlite-vec's BLOB column input.
func float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BlobToFloat32Slice deserialises a little-endian byte blob to a float32 slice.
func BlobToFloat32Slice(b []byte) []float32 {
	result := make([]float32, len(b)/4)
	for i := range result {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		result[i] = math.Float32frombits(bits)
	}
	return result
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when they differ in length, are empty, or either has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}
