// Package policy holds the static account policy table: which operations each treasury
// account may perform, whether it needs an approval code and its daily ceiling.
//
// The registry is loaded once at start, from a YAML file or from DefaultPolicies, and
// never changes afterwards. Lookups of unknown accounts fail closed.
package policy
