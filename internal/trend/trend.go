package trend

import (
	"fmt"
	"math"
	"sort"
)

// slopeStableThresholdMiBsPerHour is the minimum |slope| before a trend is
// classified as throttling/improving rather than stable noise.
const slopeStableThresholdMiBsPerHour = 1.0

// CalculateTrend fits a linear regression of read bandwidth over elapsed
// time across points, requiring at least minDataPoints observations.
func CalculateTrend(points []DataPoint, minDataPoints int) (*Result, error) {
	if len(points) < minDataPoints {
		return nil, fmt.Errorf("insufficient data points: %d < %d", len(points), minDataPoints)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no historical data")
	}

	sorted := make([]DataPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	n := float64(len(sorted))
	var sumX, sumY, sumXY, sumX2 float64
	startTime := sorted[0].Timestamp

	for _, p := range sorted {
		x := p.Timestamp.Sub(startTime).Hours()
		y := p.ReadBWMiBs
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if math.Abs(denominator) < 1e-10 {
		return nil, fmt.Errorf("cannot calculate trend: no variance in elapsed time")
	}

	slope := (n*sumXY - sumX*sumY) / denominator
	intercept := (sumY - slope*sumX) / n

	ssRes, ssTot := 0.0, 0.0
	meanY := sumY / n
	for _, p := range sorted {
		x := p.Timestamp.Sub(startTime).Hours()
		predicted := intercept + slope*x
		ssRes += math.Pow(p.ReadBWMiBs-predicted, 2)
		ssTot += math.Pow(p.ReadBWMiBs-meanY, 2)
	}
	rSquared := 1.0
	if ssTot > 0 {
		rSquared = 1.0 - ssRes/ssTot
	}
	if rSquared < 0 {
		rSquared = 0
	}
	if rSquared > 1 {
		rSquared = 1
	}

	direction := DirectionStable
	if math.Abs(slope) > slopeStableThresholdMiBsPerHour {
		if slope < 0 {
			direction = DirectionThrottling
		} else {
			direction = DirectionImproving
		}
	}

	startValue := sorted[0].ReadBWMiBs
	endValue := sorted[len(sorted)-1].ReadBWMiBs
	changePercent := 0.0
	if startValue > 0 {
		changePercent = (endValue - startValue) / startValue * 100
	}

	return &Result{
		Direction:        direction,
		SlopeMiBsPerHour: slope,
		RSquared:         rSquared,
		DataPoints:       len(sorted),
		StartTime:        startTime,
		EndTime:          sorted[len(sorted)-1].Timestamp,
		StartValue:       startValue,
		EndValue:         endValue,
		ChangePercent:    changePercent,
	}, nil
}

// DetectAnomalies flags points whose bandwidth deviates from the series
// mean by more than zScoreThreshold standard deviations.
func DetectAnomalies(points []DataPoint, zScoreThreshold float64) []Anomaly {
	if len(points) < 2 {
		return nil
	}

	sorted := make([]DataPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = p.ReadBWMiBs
	}
	mean := calculateMean(values)
	stdDev := calculateStdDev(values, mean)
	if stdDev == 0 {
		return nil
	}

	var anomalies []Anomaly
	for _, p := range sorted {
		zScore := (p.ReadBWMiBs - mean) / stdDev
		if math.Abs(zScore) <= zScoreThreshold {
			continue
		}
		severity := "low"
		switch {
		case math.Abs(zScore) > 3.0:
			severity = "critical"
		case math.Abs(zScore) > 2.5:
			severity = "high"
		case math.Abs(zScore) > 1.5:
			severity = "medium"
		}
		anomalies = append(anomalies, Anomaly{
			Timestamp: p.Timestamp,
			Value:     p.ReadBWMiBs,
			ZScore:    zScore,
			Severity:  severity,
		})
	}
	return anomalies
}

func calculateMean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func calculateStdDev(values []float64, mean float64) float64 {
	sumSq := 0.0
	for _, v := range values {
		sumSq += math.Pow(v-mean, 2)
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
