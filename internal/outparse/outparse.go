// Package outparse extracts monitor metrics from captured stdout. Monitor
// tasks report through lines of the form
//
//	OUT=cpu=23.5<TAB>temp=67.2<TAB>42
//
// where each tab-separated token is either key=number or a bare number.
package outparse

import (
	"strconv"
	"strings"
)

const outPrefix = "OUT="

// Pair is one parsed metric sample.
type Pair struct {
	Key   string
	Value float64
}

// Tokens returns the tab-separated tokens of the last OUT= line in the
// stdout text, or nil when no such line exists.
func Tokens(stdout string) []string {
	var payload string
	found := false
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, outPrefix) {
			payload = line[len(outPrefix):]
			found = true
		}
	}
	if !found || payload == "" {
		return nil
	}
	return strings.Split(payload, "\t")
}

// Pairs converts tokens into metric samples. Tokens that parse as neither
// key=number nor a bare number are discarded silently. Bare numbers are
// keyed "value".
func Pairs(tokens []string) []Pair {
	var pairs []Pair
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if key, value, ok := strings.Cut(token, "="); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				continue
			}
			pairs = append(pairs, Pair{Key: strings.TrimSpace(key), Value: v})
			continue
		}
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			continue
		}
		pairs = append(pairs, Pair{Key: "value", Value: v})
	}
	return pairs
}

// Parse combines Tokens and Pairs.
func Parse(stdout string) []Pair {
	return Pairs(Tokens(stdout))
}
