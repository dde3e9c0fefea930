// Package indicator derives technical indicators from bar series.
//
// KDJ is computed here as a sequential fold. Every other indicator is
// delegated to the TA-Lib port through Compute, which pads the warm-up
// prefix with NaN so every output has the same length as its input.
package indicator
