// Package evaluator classifies a parsed model.Summary against a show
// profile's threshold set, producing a model.Grading. Verdicts are a pure
// function of (Summary, ProfileId): identical inputs always yield an
// identical verdict and identical reasons.
package evaluator
