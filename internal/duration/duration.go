// Package duration computes podcast durations from audio buffers and from text length.
//
// The exact computation trusts a fixed PCM profile (mono, 16-bit, 44100 Hz) behind a
// canonical 44-byte WAV header. The header fields are not parsed.
package duration

import (
	"fmt"
	"math"
	"regexp"
)

// Fixed PCM profile produced by the synthesis service.
const (
	SampleRate     = 44100
	BitDepth       = 16
	Channels       = 1
	WAVHeaderBytes = 44
	bytesPerSample = BitDepth / 8
)

// WordsPerMinute is the speaking rate assumed by the approximate estimate.
const WordsPerMinute = 150

const (
	secondsInMinute = 60
	formatMinSec    = "%02d:%02d"
)

// FormattedPattern matches every value produced by Format.
var FormattedPattern = regexp.MustCompile(`^\d+:\d{2}$`)

// Estimate is a duration in whole seconds together with its "mm:ss" rendering.
type Estimate struct {
	Seconds   int
	Formatted string
}

// Exact returns the duration of a raw audio buffer, rounded to the nearest second.
// Buffers no longer than the header yield zero.
func Exact(audio []byte) Estimate {
	payload := len(audio) - WAVHeaderBytes
	if payload <= 0 {
		return newEstimate(0)
	}

	seconds := float64(payload) / float64(bytesPerSample*Channels*SampleRate)

	return newEstimate(int(math.Round(seconds)))
}

// Approximate estimates the duration of narrating wordCount words.
func Approximate(wordCount int) Estimate {
	if wordCount <= 0 {
		return newEstimate(0)
	}

	seconds := float64(wordCount) / WordsPerMinute * secondsInMinute

	return newEstimate(int(math.Round(seconds)))
}

// Format renders seconds as "mm:ss". Minutes are not capped at 59.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	return fmt.Sprintf(formatMinSec, seconds/secondsInMinute, seconds%secondsInMinute)
}

// PCMBytesFor returns the buffer length (header included) holding the given number of seconds.
func PCMBytesFor(seconds int) int {
	return WAVHeaderBytes + seconds*bytesPerSample*Channels*SampleRate
}

func newEstimate(seconds int) Estimate {
	if seconds < 0 {
		seconds = 0
	}

	return Estimate{
		Seconds:   seconds,
		Formatted: Format(seconds),
	}
}
