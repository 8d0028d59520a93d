package fioparser

import (
	"encoding/json"
	"fmt"

	"github.com/jpequegn/qlabbench/internal/model"
)

// excerptLen bounds how much of the offending input is echoed back in a
// ParseFailure.
const excerptLen = 80

// Parse converts raw fio stdout (JSON possibly preceded by log lines) into
// a canonical model.Summary. A structural failure (no balanced JSON object
// found, or the object doesn't decode as a JSON document) is a hard
// failure. Missing optional fields inside an otherwise well-formed document
// are not: they resolve to zero.
func Parse(rawOutput []byte) (*model.Summary, error) {
	jsonBytes, err := locateJSONObject(rawOutput)
	if err != nil {
		return nil, &model.ParseFailure{
			Position: 0,
			Excerpt:  excerpt(rawOutput),
		}
	}

	var doc map[string]interface{}
	if decodeErr := json.Unmarshal(jsonBytes, &doc); decodeErr != nil {
		return nil, &model.ParseFailure{
			Position: 0,
			Excerpt:  excerpt(jsonBytes),
		}
	}

	jobsRaw, ok := doc["jobs"].([]interface{})
	if !ok {
		// "jobs" missing entirely: the document is structurally sound, just
		// empty of results.
		return &model.Summary{}, nil
	}

	var (
		sumReadBW, sumWriteBW     float64
		sumReadIOPS, sumWriteIOPS float64
		readLatSum, readLatCount  float64
		writeLatSum, writeLatCount float64
		maxRuntime                float64
		sumBWMin, sumBWMean       float64
		haveStability             bool
	)

	for _, jobRaw := range jobsRaw {
		job, ok := jobRaw.(map[string]interface{})
		if !ok {
			continue
		}

		if read, ok := asMap(job["read"]); ok {
			sumReadBW += resolveBandwidthKiBs(read)
			sumReadIOPS += resolveIOPS(read)
			if lat, ok := nonZeroLatencyMs(read); ok {
				readLatSum += lat
				readLatCount++
			}
			if rt := getFloat(read, "runtime"); rt > maxRuntime {
				maxRuntime = rt
			}
			if min, mean, ok := bwMinMean(read); ok {
				sumBWMin += min
				sumBWMean += mean
				haveStability = true
			}
		}

		if write, ok := asMap(job["write"]); ok {
			sumWriteBW += resolveBandwidthKiBs(write)
			sumWriteIOPS += resolveIOPS(write)
			if lat, ok := nonZeroLatencyMs(write); ok {
				writeLatSum += lat
				writeLatCount++
			}
			if rt := getFloat(write, "runtime"); rt > maxRuntime {
				maxRuntime = rt
			}
			if min, mean, ok := bwMinMean(write); ok {
				sumBWMin += min
				sumBWMean += mean
				haveStability = true
			}
		}
	}

	summary := &model.Summary{
		ReadBWKiBs:   clampNonNegative(sumReadBW),
		WriteBWKiBs:  clampNonNegative(sumWriteBW),
		ReadIOPS:     clampNonNegative(sumReadIOPS),
		WriteIOPS:    clampNonNegative(sumWriteIOPS),
		ReadLatMs:    meanOrZero(readLatSum, readLatCount),
		WriteLatMs:   meanOrZero(writeLatSum, writeLatCount),
		MaxRuntimeMs: clampNonNegative(maxRuntime),
	}

	if haveStability && sumBWMean > 0 {
		ratio := clampNonNegative(sumBWMin / sumBWMean)
		summary.StabilityRatio = &ratio
	}

	return summary, nil
}

// resolveBandwidthKiBs prefers "bw" (KiB/s) when present and non-zero, else
// falls back to bw_bytes/1024, else 0.
func resolveBandwidthKiBs(m map[string]interface{}) float64 {
	if bw := getFloat(m, "bw"); bw != 0 {
		return bw
	}
	if bwBytes := getFloat(m, "bw_bytes"); bwBytes != 0 {
		return bwBytes / 1024
	}
	return 0
}

// resolveIOPS prefers "iops", falling back to "iops_mean", else 0.
func resolveIOPS(m map[string]interface{}) float64 {
	if iops := getFloat(m, "iops"); iops != 0 {
		return iops
	}
	return getFloat(m, "iops_mean")
}

// nonZeroLatencyMs extracts lat_ns.mean converted to milliseconds; ok is
// false when the job reports zero or missing latency, so it is excluded
// from the cross-job mean rather than dragging it toward zero.
func nonZeroLatencyMs(m map[string]interface{}) (float64, bool) {
	latNs, ok := asMap(m["lat_ns"])
	if !ok {
		return 0, false
	}
	meanNs := getFloat(latNs, "mean")
	if meanNs <= 0 {
		return 0, false
	}
	return meanNs / 1e6, true
}

// bwMinMean extracts bw_min/bw_mean for the stability-ratio calculation.
func bwMinMean(m map[string]interface{}) (min, mean float64, ok bool) {
	_, hasMin := m["bw_min"]
	_, hasMean := m["bw_mean"]
	if !hasMin || !hasMean {
		return 0, 0, false
	}
	return getFloat(m, "bw_min"), getFloat(m, "bw_mean"), true
}

func meanOrZero(sum, count float64) float64 {
	if count == 0 {
		return 0
	}
	return clampNonNegative(sum / count)
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// asMap type-asserts v as a JSON object, returning ok=false for anything
// else (missing key, wrong type) rather than panicking.
func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// getFloat extracts a numeric field, tolerating malformed values (wrong
// JSON type, non-numeric string) by returning zero instead of failing the
// parse.
func getFloat(m map[string]interface{}, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func excerpt(raw []byte) string {
	if len(raw) <= excerptLen {
		return string(raw)
	}
	return fmt.Sprintf("%s...", string(raw[:excerptLen]))
}
