package audio

import "math/cmplx"

// HighPassFilter is a stateful first-order RC high-pass filter used to
// remove DC offset and sub-80Hz rumble before voicing-energy measurement.
// Not safe for concurrent use; create one per session.
type HighPassFilter struct {
	cutoffHz float64
	alpha    float64
	prevIn   float64
	prevOut  float64
	init     bool
}

// NewHighPassFilter returns a filter with the given cutoff frequency in Hz,
// tuned for PCM sampled at sampleRate.
func NewHighPassFilter(cutoffHz float64, sampleRate int) *HighPassFilter {
	dt := 1.0 / float64(sampleRate)
	rc := 1.0 / (2 * 3.141592653589793 * cutoffHz)
	return &HighPassFilter{
		cutoffHz: cutoffHz,
		alpha:    rc / (rc + dt),
	}
}

// Apply filters little-endian int16 PCM in place and returns it.
func (f *HighPassFilter) Apply(pcm []byte) []byte {
	n := len(pcm) / 2
	for i := range n {
		sample := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		if !f.init {
			f.prevIn = sample
			f.prevOut = 0
			f.init = true
		}
		out := f.alpha * (f.prevOut + sample - f.prevIn)
		f.prevIn = sample
		f.prevOut = out

		clamped := clampInt16(out)
		pcm[i*2] = byte(clamped)
		pcm[i*2+1] = byte(clamped >> 8)
	}
	return pcm
}

// SpectralDenoiser reduces steady-state background noise via short-time
// magnitude spectral subtraction: it tracks a noise-floor spectrum during
// low-energy frames and subtracts it from every frame's magnitude spectrum
// before resynthesis, preserving phase.
//
// Frames are processed independently with a fixed-size direct DFT/IDFT;
// the frame size should match the caller's analysis window (typically
// 20-30ms of PCM at the pipeline's sample rate).
type SpectralDenoiser struct {
	frameSize  int
	noiseFloor []float64
	warmed     bool
	// oversubtraction scales how aggressively the noise estimate is
	// subtracted; 1.0 is unity subtraction, >1 is more aggressive.
	oversubtraction float64
	// floorRatio bounds how far a bin's magnitude may be reduced, to avoid
	// the "musical noise" artifacts of full subtraction.
	floorRatio float64
}

// NewSpectralDenoiser returns a denoiser operating on frames of frameSize
// int16 samples.
func NewSpectralDenoiser(frameSize int) *SpectralDenoiser {
	return &SpectralDenoiser{
		frameSize:       frameSize,
		noiseFloor:      make([]float64, frameSize),
		oversubtraction: 1.5,
		floorRatio:      0.05,
	}
}

// UpdateNoiseFloor feeds a frame known to contain no speech (e.g. while the
// VAD state machine is IDLE) so the denoiser can track the ambient noise
// spectrum. Safe to call repeatedly; the estimate is exponentially smoothed.
func (d *SpectralDenoiser) UpdateNoiseFloor(pcm []byte) {
	mag := d.magnitudeSpectrum(pcm)
	if !d.warmed {
		copy(d.noiseFloor, mag)
		d.warmed = true
		return
	}
	const smoothing = 0.9
	for i := 0; i < len(mag) && i < len(d.noiseFloor); i++ {
		d.noiseFloor[i] = smoothing*d.noiseFloor[i] + (1-smoothing)*mag[i]
	}
}

// Apply performs spectral subtraction on pcm using the tracked noise floor
// and returns the denoised PCM. If the noise floor has never been
// initialized via [SpectralDenoiser.UpdateNoiseFloor], pcm is returned
// unchanged.
func (d *SpectralDenoiser) Apply(pcm []byte) []byte {
	if !d.warmed {
		return pcm
	}
	samples := bytesToFloat(pcm)
	n := len(samples)
	if n == 0 {
		return pcm
	}

	spectrum := dft(samples)
	for i, c := range spectrum {
		mag, phase := cmplx.Abs(c), cmplx.Phase(c)
		noise := 0.0
		if i < len(d.noiseFloor) {
			noise = d.noiseFloor[i]
		}
		reduced := mag - d.oversubtraction*noise
		floor := d.floorRatio * mag
		if reduced < floor {
			reduced = floor
		}
		spectrum[i] = cmplx.Rect(reduced, phase)
	}

	out := idft(spectrum)
	return floatToBytes(out, n)
}

func (d *SpectralDenoiser) magnitudeSpectrum(pcm []byte) []float64 {
	samples := bytesToFloat(pcm)
	spectrum := dft(samples)
	mag := make([]float64, len(spectrum))
	for i, c := range spectrum {
		mag[i] = cmplx.Abs(c)
	}
	return mag
}

func bytesToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(sample)
	}
	return out
}

func floatToBytes(samples []float64, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n && i < len(samples); i++ {
		clamped := clampInt16(samples[i])
		out[i*2] = byte(clamped)
		out[i*2+1] = byte(clamped >> 8)
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// dft computes the direct discrete Fourier transform of real-valued samples.
// Frame sizes in this pipeline are small (tens of milliseconds of 16kHz
// audio), so the O(n^2) direct form is used rather than pulling in an FFT
// dependency for a handful of bins per frame.
func dft(samples []float64) []complex128 {
	n := len(samples)
	out := make([]complex128, n)
	for k := 0; k < n; k++ {
		var sum complex128
		for t, x := range samples {
			angle := -2 * 3.141592653589793 * float64(k) * float64(t) / float64(n)
			sum += complex(x, 0) * cmplx.Exp(complex(0, angle))
		}
		out[k] = sum
	}
	return out
}

// idft computes the inverse discrete Fourier transform, returning the real
// part of the reconstructed signal.
func idft(spectrum []complex128) []float64 {
	n := len(spectrum)
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		var sum complex128
		for k, c := range spectrum {
			angle := 2 * 3.141592653589793 * float64(k) * float64(t) / float64(n)
			sum += c * cmplx.Exp(complex(0, angle))
		}
		out[t] = real(sum) / float64(n)
	}
	return out
}
