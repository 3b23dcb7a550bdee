package audio

import "math"

// RMSEnergy computes the root-mean-square energy of little-endian int16 PCM
// data, normalized to the [0, 1] range (1.0 corresponds to full-scale
// int16 amplitude). Returns 0 for input shorter than one sample; a trailing
// odd byte is ignored.
func RMSEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sumSquares float64
	for i := range n {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		norm := float64(sample) / 32768.0
		sumSquares += norm * norm
	}
	return math.Sqrt(sumSquares / float64(n))
}
