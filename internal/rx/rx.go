// Package rx compiles and runs the regular expressions used by patch
// commands. Patterns are always compiled with multiline anchoring and run
// under a wall-clock timeout so a single command can never stall a run.
package rx

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// DefaultTimeout is the wall-clock budget for a single regex operation
// when the caller does not supply one.
const DefaultTimeout = 10 * time.Second

// TimedOut is returned by FindFirst/FindAll/Count/ReplaceAll/ReplaceFirst
// when the match did not finish
// inside the timeout. Callers surface this as a REGEX_TIMEOUT outcome.
var TimedOut = fmt.Errorf("regex: timed out")

type cache struct {
	mu sync.Mutex
	m  map[string]*regexp.Regexp
}

var shared = &cache{m: map[string]*regexp.Regexp{}}

// Compile returns a cached, multiline-anchored *regexp.Regexp for pattern,
// compiling and caching it on first use. The multiline flag "(?m)" is
// prepended; dotall is never enabled, matching the executor's contract.
func Compile(pattern string) (*regexp.Regexp, error) {
	shared.mu.Lock()
	if re, ok := shared.m[pattern]; ok {
		shared.mu.Unlock()
		return re, nil
	}
	shared.mu.Unlock()

	re, err := regexp.Compile("(?m)" + pattern)
	if err != nil {
		return nil, err
	}

	shared.mu.Lock()
	shared.m[pattern] = re
	shared.mu.Unlock()
	return re, nil
}

// Match describes a single match's location, grouped so callers never touch
// regexp.Regexp indices directly.
type Match struct {
	Start int
	End   int
	Text  string
}

// FindFirst runs re against text under timeout, returning the first match
// (ok=false if none) or TimedOut if the deadline is reached first.
func FindFirst(re *regexp.Regexp, text string, timeout time.Duration) (m Match, ok bool, err error) {
	type result struct {
		loc []int
	}
	done := make(chan result, 1)
	go func() {
		done <- result{loc: re.FindStringIndex(text)}
	}()

	select {
	case r := <-done:
		if r.loc == nil {
			return Match{}, false, nil
		}
		return Match{Start: r.loc[0], End: r.loc[1], Text: text[r.loc[0]:r.loc[1]]}, true, nil
	case <-time.After(timeout):
		return Match{}, false, TimedOut
	}
}

// FindAll runs re against text under timeout, returning every non-overlapping
// match. limit <= 0 means unbounded, matching regexp.FindAllStringIndex.
func FindAll(re *regexp.Regexp, text string, limit int, timeout time.Duration) (matches []Match, err error) {
	if limit <= 0 {
		limit = -1
	}
	type result struct {
		locs [][]int
	}
	done := make(chan result, 1)
	go func() {
		done <- result{locs: re.FindAllStringIndex(text, limit)}
	}()

	select {
	case r := <-done:
		out := make([]Match, 0, len(r.locs))
		for _, loc := range r.locs {
			out = append(out, Match{Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]})
		}
		return out, nil
	case <-time.After(timeout):
		return nil, TimedOut
	}
}

// Count runs re against text under timeout and returns the number of
// non-overlapping matches.
func Count(re *regexp.Regexp, text string, timeout time.Duration) (int, error) {
	matches, err := FindAll(re, text, -1, timeout)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// ReplaceAll runs re against text under timeout and replaces every
// non-overlapping match with repl (Go regexp `$1`-style group syntax),
// returning the resulting text and the number of matches replaced.
func ReplaceAll(re *regexp.Regexp, text, repl string, timeout time.Duration) (result string, n int, err error) {
	type out struct {
		text string
		n    int
	}
	done := make(chan out, 1)
	go func() {
		locs := re.FindAllStringSubmatchIndex(text, -1)
		if len(locs) == 0 {
			done <- out{text: text, n: 0}
			return
		}
		var b []byte
		last := 0
		for _, loc := range locs {
			b = append(b, text[last:loc[0]]...)
			b = re.ExpandString(b, repl, text, loc)
			last = loc[1]
		}
		b = append(b, text[last:]...)
		done <- out{text: string(b), n: len(locs)}
	}()

	select {
	case r := <-done:
		return r.text, r.n, nil
	case <-time.After(timeout):
		return text, 0, TimedOut
	}
}

// ReplaceFirst is ReplaceAll restricted to the first match.
func ReplaceFirst(re *regexp.Regexp, text, repl string, timeout time.Duration) (result string, n int, err error) {
	type out struct {
		text string
		n    int
	}
	done := make(chan out, 1)
	go func() {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			done <- out{text: text, n: 0}
			return
		}
		var b []byte
		b = append(b, text[:loc[0]]...)
		b = re.ExpandString(b, repl, text, loc)
		b = append(b, text[loc[1]:]...)
		done <- out{text: string(b), n: 1}
	}()

	select {
	case r := <-done:
		return r.text, r.n, nil
	case <-time.After(timeout):
		return text, 0, TimedOut
	}
}
