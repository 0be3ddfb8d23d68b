// Package security implements the content-side abuse checks of the intake
// pipeline: the gibberish/spam classifier and the honeypot filter. Both are
// pure functions over the parsed form body with no side effects; blocking the
// offending IP is the caller's job.
package security

import (
	"regexp"
	"unicode"
)

// Classification thresholds. The randomness ratio and minimum length are
// deliberate, tested behavior; see the regression tests before tuning.
const (
	spamRatioThreshold = 0.7
	spamMinLength      = 15
	repeatedRunLength  = 5
)

// Pattern rules. A rule match alone never classifies text as spam; it only
// makes the text a candidate for the randomness-ratio check.
var spamPatterns = []*regexp.Regexp{
	// Long same-case letter runs ("asdkfjhasdkjfh", "WQIEUYQWIEUY").
	regexp.MustCompile(`[a-z]{10,}|[A-Z]{10,}`),
	// Alternating-case runs ("QwXyZaBcDf").
	regexp.MustCompile(`(?:[a-z][A-Z]){5,}|(?:[A-Z][a-z]){5,}`),
	// Letter-digit-letter gibberish ("a1b2c3d4").
	regexp.MustCompile(`(?:[A-Za-z]+[0-9]+){3,}`),
}

// IsSpam classifies free text as machine-generated gibberish. Text is spam
// only when a pattern rule matches, the randomness ratio exceeds 0.7, and the
// text is longer than 15 characters. Short unusual names can trip the ratio
// check; the length and rule gates keep them out.
func IsSpam(text string) bool {
	if len([]rune(text)) <= spamMinLength {
		return false
	}
	if !matchesAnyRule(text) {
		return false
	}
	return RandomnessRatio(text) > spamRatioThreshold
}

func matchesAnyRule(text string) bool {
	for _, re := range spamPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return hasRepeatedRun(text, repeatedRunLength)
}

// hasRepeatedRun reports whether text contains a run of n or more identical
// characters. RE2 has no backreferences, so this is a manual scan.
func hasRepeatedRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// RandomnessRatio returns the count of distinct non-whitespace characters
// divided by the total count of non-whitespace characters. Values near 1.0
// indicate high-entropy gibberish; natural language repeats letters and
// scores much lower. Returns 0 for whitespace-only input.
func RandomnessRatio(text string) float64 {
	seen := make(map[rune]struct{})
	total := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		seen[r] = struct{}{}
	}
	if total == 0 {
		return 0
	}
	return float64(len(seen)) / float64(total)
}
