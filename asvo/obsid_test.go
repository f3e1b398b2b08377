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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateObsid(t *testing.T) {
	obsid, err := ValidateObsid(1339896408)
	require.NoError(t, err)
	assert.Equal(t, Obsid(1339896408), obsid)

	_, err = ValidateObsid(999_999_999)
	assert.Error(t, err)

	_, err = ValidateObsid(10_000_000_000)
	assert.Error(t, err)

	_, err = ValidateObsid(575929)
	assert.Error(t, err)
}

func TestParseObsid(t *testing.T) {
	obsid, err := ParseObsid(" 1339896408 ")
	require.NoError(t, err)
	assert.Equal(t, "1339896408", obsid.String())

	_, err = ParseObsid("not-a-number")
	assert.Error(t, err)

	_, err = ParseObsid("-1339896408")
	assert.Error(t, err)
}

func TestParseObsidList(t *testing.T) {
	obsids, err := ParseObsidList("1339896408\n1234567890 1111111111")
	require.NoError(t, err)
	assert.Equal(t, []Obsid{1339896408, 1234567890, 1111111111}, obsids)

	_, err = ParseObsidList("1339896408 123")
	assert.Error(t, err)
}
