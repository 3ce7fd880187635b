//go:build !randomleader

package bft

// DefaultLeaderSelector is the selector an Engine uses when none is provided; build with the 'randomleader' tag for SeededRandom
var DefaultLeaderSelector LeaderSelector = WeightedRoundRobin{}
