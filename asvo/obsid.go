/***************************************************************
 *
 * Copyright (C) 2025, MWA ASVO Team, Curtin University
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package asvo

import (
	"fmt"
	"strconv"
	"strings"
)

// Obsid is an MWA observation ID: a GPS-time-derived integer that is
// always exactly 10 digits.  Using a dedicated type keeps obsids from
// being confused with job IDs, which occupy a smaller range.
type Obsid uint64

// ValidateObsid returns v as an Obsid if it has 10 digits.
func ValidateObsid(v uint64) (Obsid, error) {
	if v >= 1_000_000_000 && v < 10_000_000_000 {
		return Obsid(v), nil
	}
	return 0, fmt.Errorf("'%d' doesn't have 10 digits and cannot be used as an MWA obsid", v)
}

// ParseObsid parses a decimal string as an obsid.
func ParseObsid(s string) (Obsid, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return ValidateObsid(v)
}

// ParseObsidList converts whitespace-delimited integers to obsids,
// failing if any token is not a valid obsid.
func ParseObsidList(s string) ([]Obsid, error) {
	var out []Obsid
	for _, tok := range strings.Fields(s) {
		o, err := ParseObsid(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (o Obsid) String() string {
	return strconv.FormatUint(uint64(o), 10)
}
