// Package trend detects thermal-throttling drift across a profile's
// completed test history: a sustained downward slope in read bandwidth
// over time, or an individual run whose bandwidth is a statistical outlier
// against its own history. The regression and anomaly-detection math is
// adapted from benchmark-history trend analysis; here the independent
// variable is wall-clock time between completed thermal_maximum runs
// rather than elapsed benchmark-suite days.
package trend
