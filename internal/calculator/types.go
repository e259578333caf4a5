package calculator

// BytesPerMiB is the number of bytes in one mebibyte.
const BytesPerMiB = 1024 * 1024

// Usage summarises how much of the code quota a bundle consumes.
// UsedPercent may exceed 100; overage is reported, never rejected.
type Usage struct {
	UsedBytes    int64
	UsedMiB      float64
	AvailableMiB float64
	UsedPercent  float64
}

// Calculator describes the behaviour required from a quota usage calculator.
type Calculator interface {
	Calculate(usedBytes int64, availableMiB float64) (Usage, error)
}
