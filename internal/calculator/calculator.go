package calculator

type quotaCalculator struct{}

// New creates a Calculator measuring usage in MiB against a MiB quota.
func New() Calculator {
	return &quotaCalculator{}
}

func (c *quotaCalculator) Calculate(usedBytes int64, availableMiB float64) (Usage, error) {
	if usedBytes < 0 {
		return Usage{}, ErrInvalidSize
	}
	if availableMiB <= 0 {
		return Usage{}, ErrInvalidQuota
	}

	usedMiB := float64(usedBytes) / BytesPerMiB

	return Usage{
		UsedBytes:    usedBytes,
		UsedMiB:      usedMiB,
		AvailableMiB: availableMiB,
		UsedPercent:  100 * usedMiB / availableMiB,
	}, nil
}
