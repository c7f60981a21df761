// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package refid normalizes raw problem references (URLs or bare ids) into
// a stable (source_adapter, short_id) pair, following the fixed,
// first-match-wins grammar the engine uses to key workspaces.
package refid

import (
	"fmt"
	"regexp"
	"strings"
)

// Ref is a normalized problem reference.
type Ref struct {
	// SourceAdapter is the resolved adapter name (e.g. "cf", "luogu").
	SourceAdapter string

	// ShortID is the adapter-scoped short identifier (e.g. "1500A").
	ShortID string
}

// String renders the stable, directory-safe normalized id
// "<source_adapter>_<short_id>".
func (r Ref) String() string {
	return r.SourceAdapter + "_" + r.ShortID
}

type rule struct {
	host    string
	adapter string
	path    *regexp.Regexp
	build   func(m []string) string
}

var urlRules = []rule{
	{host: "aicoders.cn", adapter: "aicoders", path: regexp.MustCompile(`/problem/(\d+)`)},
	{host: "shsoj", adapter: "shsoj", path: regexp.MustCompile(`/problem/(\d+)`)},
	{host: "shsbnu", adapter: "shsoj", path: regexp.MustCompile(`/problem/(\d+)`)},
	{host: "codeforces.com", adapter: "cf", path: regexp.MustCompile(`/problem/(\d+)/([A-Z]\d?)`),
		build: func(m []string) string { return m[1] + m[2] }},
	{host: "atcoder.jp", adapter: "atcoder", path: regexp.MustCompile(`/tasks/([^/?]+)`)},
	{host: "luogu.com", adapter: "luogu", path: regexp.MustCompile(`/problem/([A-Z]?\d+)`)},
	{host: "hydro", adapter: "hydrooj", path: regexp.MustCompile(`([^/?]+)/?$`)},
}

var (
	bareLuogu = regexp.MustCompile(`^[PBTU]\d+$`)
	bareCF    = regexp.MustCompile(`^\d+[A-Z]$`)
	bareNum   = regexp.MustCompile(`^\d+$`)
)

// ErrUnrecognized is returned when a raw reference matches no rule.
type ErrUnrecognized struct {
	Raw string
}

func (e *ErrUnrecognized) Error() string {
	return fmt.Sprintf("refid: unrecognized problem reference %q", e.Raw)
}

// Normalize resolves raw (a URL or bare id) to a Ref. sourceHint, when
// non-empty, is the caller-supplied override: the bare id is then
// accepted verbatim under that adapter and auto-detection is skipped.
func Normalize(raw, sourceHint string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, &ErrUnrecognized{Raw: raw}
	}

	if sourceHint != "" {
		return Ref{SourceAdapter: sourceHint, ShortID: raw}, nil
	}

	if strings.Contains(raw, "://") || strings.Contains(raw, ".") {
		if ref, ok := normalizeURL(raw); ok {
			return ref, nil
		}
	}

	switch {
	case bareLuogu.MatchString(raw):
		return Ref{SourceAdapter: "luogu", ShortID: raw}, nil
	case bareCF.MatchString(raw):
		return Ref{SourceAdapter: "cf", ShortID: raw}, nil
	case bareNum.MatchString(raw):
		return Ref{SourceAdapter: "shsoj", ShortID: raw}, nil
	}

	return Ref{}, &ErrUnrecognized{Raw: raw}
}

func normalizeURL(raw string) (Ref, bool) {
	for _, r := range urlRules {
		if !strings.Contains(raw, r.host) {
			continue
		}
		m := r.path.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		id := m[1]
		if r.build != nil {
			id = r.build(m)
		}
		return Ref{SourceAdapter: r.adapter, ShortID: id}, true
	}
	return Ref{}, false
}

// Display renders a normalized Ref back to a stable short display id,
// e.g. "cf/1500A". Round-tripping raw -> Normalize -> Display is stable
// for any reference this grammar recognizes.
func Display(r Ref) string {
	return r.SourceAdapter + "/" + r.ShortID
}
