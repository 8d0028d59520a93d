// Package resolver locates an acceptable fio binary on the host and reports
// its capability. It never installs or compiles anything: the resolver's
// only job is applying the acceptance criterion and producing a
// human-readable hint when nothing qualifies.
package resolver
