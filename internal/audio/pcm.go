package audio

import (
	"encoding/binary"
	"math"
)

// BytesToFloat32 decodes little-endian float32 samples. Trailing bytes that do
// not form a whole sample are ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float32ToBytes encodes samples as little-endian float32.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Int16ToFloat32 decodes little-endian signed 16-bit PCM into [-1, 1).
func Int16ToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

// Float32ToInt16 clamps samples to [-1, 1] and encodes them as little-endian 16-bit PCM.
func Float32ToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
