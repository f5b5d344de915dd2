package sample

// NewMovingAverage creates a converter that replaces each reading with the
// mean of the last windowSize readings. Failed samples pass through unchanged
// and do not enter the window.
func NewMovingAverage(windowSize int, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var buffer []float64
			for s := range in {
				if s.OK() {
					buffer = append(buffer, s.PH)
					if len(buffer) > windowSize {
						buffer = buffer[1:] // Remove oldest
					}
					s.PH = average(buffer)
				}
				out <- s
			}
		}()

		return out
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
