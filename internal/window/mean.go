package window

import "agro-logger/internal/reading"

// Mean averages the valid values among the first count samples. It returns a
// missing value when none of them is valid.
func Mean(samples []reading.Value, count int) reading.Value {
	if count > len(samples) {
		count = len(samples)
	}

	var (
		sum   float64
		valid int
	)

	for _, s := range samples[:max(count, 0)] {
		if !s.OK {
			continue
		}

		sum += s.V
		valid++
	}

	if valid == 0 {
		return reading.Missing()
	}

	return reading.Some(sum / float64(valid))
}
