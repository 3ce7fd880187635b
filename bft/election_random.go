//go:build randomleader

package bft

// DefaultLeaderSelector is the selector an Engine uses when none is provided
var DefaultLeaderSelector LeaderSelector = SeededRandom{}
