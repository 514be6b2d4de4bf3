// Copyright 2025 Protolens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package bytescan provides the bulk byte operations the detection pipeline
// leans on: single-byte search, ASCII letter classification, and fixed
// pattern comparison. Each operation ships an accelerated kernel and a plain
// scalar reference producing bit-identical results; which kernel runs is an
// internal detail and never changes observable behaviour.
package bytescan

import (
	"bytes"
	"math/bits"
)

// MaxPatternLength bounds CompareFixed patterns.
const MaxPatternLength = 32

// Kernels bundles the three operations so callers can hold either variant
// behind one value.
type Kernels struct {
	// FindByte returns the offset of the first occurrence of b in window,
	// or -1 when absent.
	FindByte func(window []byte, b byte) int
	// ClassifyASCIILetters returns a bitmask with bit i set when window[i]
	// is an ASCII letter. The mask is packed into 64-bit words, low bit
	// first.
	ClassifyASCIILetters func(window []byte) []uint64
	// CompareFixed reports whether window carries pattern at offset.
	// Patterns longer than MaxPatternLength never match.
	CompareFixed func(window []byte, offset int, pattern []byte) bool
}

// Accelerated returns the fastest kernel set available on this platform.
// The byte search and the fixed comparison ride the runtime's vectorized
// bytes.IndexByte and bytes.Equal; letter classification uses the scalar
// reference code.
func Accelerated() Kernels {
	return Kernels{
		FindByte:             findByteAccel,
		ClassifyASCIILetters: classifyASCIILettersScalar,
		CompareFixed:         compareFixedAccel,
	}
}

// Scalar returns the pure reference implementation. It exists so the
// accelerated kernels can be property-tested against it.
func Scalar() Kernels {
	return Kernels{
		FindByte:             findByteScalar,
		ClassifyASCIILetters: classifyASCIILettersScalar,
		CompareFixed:         compareFixedScalar,
	}
}

func findByteAccel(window []byte, b byte) int {
	return bytes.IndexByte(window, b)
}

func findByteScalar(window []byte, b byte) int {
	for i, w := range window {
		if w == b {
			return i
		}
	}
	return -1
}

func isASCIILetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func classifyASCIILettersScalar(window []byte) []uint64 {
	if len(window) == 0 {
		return nil
	}
	mask := make([]uint64, (len(window)+63)/64)
	for i, b := range window {
		if isASCIILetter(b) {
			mask[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return mask
}

func compareFixedAccel(window []byte, offset int, pattern []byte) bool {
	if len(pattern) == 0 || len(pattern) > MaxPatternLength {
		return false
	}
	if offset < 0 || offset+len(pattern) > len(window) {
		return false
	}
	return bytes.Equal(window[offset:offset+len(pattern)], pattern)
}

func compareFixedScalar(window []byte, offset int, pattern []byte) bool {
	if len(pattern) == 0 || len(pattern) > MaxPatternLength {
		return false
	}
	if offset < 0 || offset+len(pattern) > len(window) {
		return false
	}
	for i, p := range pattern {
		if window[offset+i] != p {
			return false
		}
	}
	return true
}

// LetterRatio returns the fraction of window bytes that are ASCII letters,
// computed from the classification mask. It is the building block the
// heuristic probe uses to separate textual from binary prefixes.
func LetterRatio(k Kernels, window []byte) float64 {
	if len(window) == 0 {
		return 0
	}
	total := 0
	for _, word := range k.ClassifyASCIILetters(window) {
		total += bits.OnesCount64(word)
	}
	return float64(total) / float64(len(window))
}
