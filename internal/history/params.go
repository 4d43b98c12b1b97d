// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package history

import (
	"fmt"
	"strings"
)

// SplitParams splits comma separated function parameters. Quoted parameters
// are unquoted, unquoted ones are trimmed. Empty input has no parameters.
func SplitParams(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var res []string
	for i := 0; ; {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		var param string
		if i < len(s) && s[i] == '"' {
			var sb strings.Builder
			j := i + 1
			for ; j < len(s) && s[j] != '"'; j++ {
				if s[j] == '\\' && j+1 < len(s) && (s[j+1] == '"' || s[j+1] == '\\') {
					j++
				}
				sb.WriteByte(s[j])
			}
			if j == len(s) {
				return nil, fmt.Errorf("unterminated quoted parameter at position %d", i)
			}
			param = sb.String()
			for i = j + 1; i < len(s) && s[i] == ' '; i++ {
			}
			if i < len(s) && s[i] != ',' {
				return nil, fmt.Errorf("unexpected character at position %d", i)
			}
		} else {
			j := strings.IndexByte(s[i:], ',')
			if j < 0 {
				j = len(s) - i
			}
			param = strings.TrimSpace(s[i : i+j])
			i += j
		}
		res = append(res, param)
		if i >= len(s) {
			return res, nil
		}
		i++ // comma
	}
}

// QuoteParam quotes s so SplitParams returns it unchanged.
func QuoteParam(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
