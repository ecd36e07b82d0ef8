package audio

import "math"

// RMS returns the root-mean-square amplitude of pcm with samples normalised
// to [-1, 1]. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sample(pcm, i)) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// RMSUint8 is RMS for unsigned 8-bit time-domain data centred on 128, the
// format browser analyser nodes deliver.
func RMSUint8(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, b := range data {
		v := (float64(b) - 128) / 128
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(data)))
}
