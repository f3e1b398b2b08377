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
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseJobIDsOrObsids sorts command-line arguments into job IDs and
// obsids.  An integer with exactly ten digits is an obsid (GPS seconds
// put every plausible MWA observation in that range); any other integer
// is a job ID.  A non-integer argument is read as a text file holding
// more of the same, one per whitespace-separated token.
func ParseJobIDsOrObsids(args []string) ([]JobID, []Obsid, error) {
	var jobIDs []JobID
	var obsids []Obsid
	for _, arg := range args {
		tokens, err := expandArg(arg)
		if err != nil {
			return nil, nil, err
		}
		for _, tok := range tokens {
			v, err := strconv.ParseUint(tok, 10, 64)
			if err != nil {
				return nil, nil, errors.Errorf("%q is neither an integer nor a readable file", tok)
			}
			if obsid, err := ValidateObsid(v); err == nil {
				obsids = append(obsids, obsid)
			} else {
				if v > 1<<32-1 {
					return nil, nil, errors.Errorf("%d is too large to be an ASVO job ID", v)
				}
				jobIDs = append(jobIDs, JobID(v))
			}
		}
	}
	return jobIDs, obsids, nil
}

// ParseObsids reads obsids from command-line arguments, where each
// argument is either an obsid or a file of obsids.
func ParseObsids(args []string) ([]Obsid, error) {
	var obsids []Obsid
	for _, arg := range args {
		tokens, err := expandArg(arg)
		if err != nil {
			return nil, err
		}
		for _, tok := range tokens {
			obsid, err := ParseObsid(tok)
			if err != nil {
				return nil, err
			}
			obsids = append(obsids, obsid)
		}
	}
	return obsids, nil
}

// ParseJobIDs reads job IDs from command-line arguments, where each
// argument is either a job ID or a file of job IDs.
func ParseJobIDs(args []string) ([]JobID, error) {
	var ids []JobID
	for _, arg := range args {
		tokens, err := expandArg(arg)
		if err != nil {
			return nil, err
		}
		for _, tok := range tokens {
			v, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				return nil, errors.Errorf("%q is not a valid ASVO job ID", tok)
			}
			ids = append(ids, JobID(v))
		}
	}
	return ids, nil
}

// expandArg turns one argument into its integer tokens.  An argument
// that parses as an integer stands for itself; anything else must be a
// readable file whose whitespace-separated tokens are used instead.
func expandArg(arg string) ([]string, error) {
	if _, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 64); err == nil {
		return []string{strings.TrimSpace(arg)}, nil
	}
	contents, err := os.ReadFile(arg)
	if err != nil {
		return nil, errors.Wrapf(err, "%q is not an integer and could not be read as a file", arg)
	}
	return strings.Fields(string(contents)), nil
}
