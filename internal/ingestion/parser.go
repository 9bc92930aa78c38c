package ingestion

import (
	"SynthVault/internal/math"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RateUpdate is one FX quote from the feed.
type RateUpdate struct {
	Pair        string
	Rate        int64 // math.RateConfig
	Sequence    int64
	PublishedAt time.Time
	Source      string
}

// rateJSON is the wire format on fx.rates.{PAIR}. The rate is a decimal
// string so producers never round through float64.
type rateJSON struct {
	Pair        string `json:"pair"`
	Rate        string `json:"rate"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
	Source      string `json:"source,omitempty"`
}

// PairFromSubject extracts the pair from "fx.rates.GBPUSD".
func PairFromSubject(subject string) (string, error) {
	if !strings.HasPrefix(subject, RateSubjectPrefix) {
		return "", fmt.Errorf("subject %q is not a rate subject", subject)
	}
	pair := strings.TrimPrefix(subject, RateSubjectPrefix)
	if pair == "" || strings.Contains(pair, ".") {
		return "", fmt.Errorf("subject %q has no single pair token", subject)
	}
	return strings.ToUpper(pair), nil
}

// ParseRateUpdate validates a rate message. The payload pair, if given, must
// agree with the subject.
func ParseRateUpdate(subject string, data []byte) (RateUpdate, error) {
	pair, err := PairFromSubject(subject)
	if err != nil {
		return RateUpdate{}, err
	}

	var j rateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return RateUpdate{}, fmt.Errorf("parse rate: %w", err)
	}
	if j.Pair != "" && !strings.EqualFold(j.Pair, pair) {
		return RateUpdate{}, fmt.Errorf("payload pair %s does not match subject pair %s", j.Pair, pair)
	}
	if j.Sequence <= 0 {
		return RateUpdate{}, fmt.Errorf("sequence must be positive, got %d", j.Sequence)
	}
	if j.TimestampUs <= 0 {
		return RateUpdate{}, fmt.Errorf("timestamp_us must be positive, got %d", j.TimestampUs)
	}

	rate, err := math.ParseScaled(j.Rate, math.RateConfig)
	if err != nil {
		return RateUpdate{}, fmt.Errorf("parse rate value: %w", err)
	}
	if rate <= 0 {
		return RateUpdate{}, fmt.Errorf("rate must be positive, got %s", j.Rate)
	}

	return RateUpdate{
		Pair:        pair,
		Rate:        rate,
		Sequence:    j.Sequence,
		PublishedAt: time.UnixMicro(j.TimestampUs).UTC(),
		Source:      j.Source,
	}, nil
}
