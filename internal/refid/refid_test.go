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

package refid_test

import (
	"testing"

	"github.com/Inkotake/ojo-agent/internal/refid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		hint    string
		adapter string
		short   string
	}{
		{"codeforces url", "https://codeforces.com/problem/1500/A", "", "cf", "1500A"},
		{"atcoder url", "https://atcoder.jp/tasks/abc300_a", "", "atcoder", "abc300_a"},
		{"luogu url", "https://www.luogu.com/problem/P1001", "", "luogu", "P1001"},
		{"aicoders url", "https://aicoders.cn/problem/42", "", "aicoders", "42"},
		{"bare luogu id", "P1001", "", "luogu", "P1001"},
		{"bare cf id", "1500A", "", "cf", "1500A"},
		{"bare numeric defaults to shsoj", "42", "", "shsoj", "42"},
		{"explicit hint bypasses detection", "whatever-id", "custom", "custom", "whatever-id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := refid.Normalize(tc.raw, tc.hint)
			require.NoError(t, err)
			assert.Equal(t, tc.adapter, ref.SourceAdapter)
			assert.Equal(t, tc.short, ref.ShortID)
		})
	}
}

func TestNormalize_Unrecognized(t *testing.T) {
	_, err := refid.Normalize("!!!not-a-ref!!!", "")
	require.Error(t, err)
	var unrecognized *refid.ErrUnrecognized
	require.ErrorAs(t, err, &unrecognized)
}

func TestNormalize_RoundTrip(t *testing.T) {
	ref, err := refid.Normalize("https://codeforces.com/problem/1500/A", "")
	require.NoError(t, err)

	display := refid.Display(ref)
	assert.Equal(t, "cf/1500A", display)

	again, err := refid.Normalize("1500A", "")
	require.NoError(t, err)
	assert.Equal(t, ref, again)
}
