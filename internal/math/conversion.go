package math

// ToSynth converts a reference amount into synth units at rate.
// Amounts a depositor receives must use RoundDown.
func ToSynth(reference, rate int64, mode RoundingMode) int64 {
	if rate <= 0 {
		return 0
	}
	return MulDiv(reference, RateConfig.Scale, rate, mode)
}

// ToReference converts a synth amount into reference units at rate.
func ToReference(synth, rate int64, mode RoundingMode) int64 {
	return MulDiv(synth, rate, RateConfig.Scale, mode)
}

// PlausibilityBand bounds the synth output per reference input, in bps.
// A band of 7_000..9_000 accepts 70 to 90 synth for 100 reference.
type PlausibilityBand struct {
	MinBps int64
	MaxBps int64
}

// Contains reports whether synth is a plausible conversion of reference.
// A zero band accepts everything.
func (b PlausibilityBand) Contains(reference, synth int64) bool {
	if b.MinBps == 0 && b.MaxBps == 0 {
		return true
	}
	if reference <= 0 {
		return false
	}
	ratio := MulDiv(synth, BpsScale, reference, RoundDown)
	return ratio >= b.MinBps && ratio <= b.MaxBps
}

// ChangeBps returns |current - previous| / previous in bps, rounded up.
func ChangeBps(previous, current int64) int64 {
	if previous <= 0 {
		return 0
	}
	diff := current - previous
	if diff < 0 {
		diff = -diff
	}
	return MulDiv(diff, BpsScale, previous, RoundUp)
}
