// Package model defines the core identifiers shared across rowcache:
// linear row indices, cache slots, tagged row addresses, and eviction
// records. All sentinel conventions (negative index, NoSlot) live here.
package model
