package tang

type (
	// AudioBuffer is a buffer of interleaved stereo frames.
	AudioBuffer [][2]float32

	// AudioContext is an output device that pulls audio from a render
	// callback. The callback is invoked on the device's real-time thread and
	// must fill the whole buffer without blocking.
	AudioContext interface {
		Play(render func(buf AudioBuffer)) (AudioStream, error)
		Close() error
	}

	// AudioStream is a running output stream started by AudioContext.Play.
	AudioStream interface {
		// Err returns the first error the device reported, if any.
		Err() error
		Close() error
	}
)

// Fill sets every sample of the buffer to v.
func (b AudioBuffer) Fill(v float32) {
	for i := range b {
		b[i] = [2]float32{v, v}
	}
}

// Resize returns a buffer of length n, reusing the capacity of b when
// possible.
func (b AudioBuffer) Resize(n int) AudioBuffer {
	if cap(b) >= n {
		return b[:n]
	}
	return append(b[:cap(b)], make(AudioBuffer, n-cap(b))...)
}
