// Package planner translates a ProfileId and target device context into a
// concrete model.WorkloadPlan. Profiles are fixed Go templates, not
// user-configurable, so adding a profile is an explicit code change, never
// a config file edit.
package planner
