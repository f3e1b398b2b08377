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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickPolling(t *testing.T) {
	t.Helper()
	oldGrace, oldPoll := waitGraceSleep, waitPollInterval
	waitGraceSleep = time.Millisecond
	waitPollInterval = time.Millisecond
	t.Cleanup(func() {
		waitGraceSleep, waitPollInterval = oldGrace, oldPoll
	})
}

func waitCatalog(aState, bState string) string {
	return `[` +
		`{"row": {"id": 10, "job_type": "download_visibilities", "job_state": "` + aState + `", "job_params": {"obs_id": "1111111111"}}},` +
		`{"row": {"id": 20, "job_type": "download_visibilities", "job_state": "` + bState + `", "job_params": {"obs_id": "2222222222"},` +
		` "error_text": "gpubox files lost"}}` +
		`]`
}

func TestWaitForJobsAllReady(t *testing.T) {
	quickPolling(t)
	server, mux := newTestServer(t)
	var polls atomic.Int64
	serveJobs(mux, func() string {
		if polls.Add(1) == 1 {
			return waitCatalog("queued", "processing")
		}
		return waitCatalog("ready", "ready")
	})

	client := newTestClient(t, server)
	require.NoError(t, client.WaitForJobs([]JobID{10, 20}))
	assert.GreaterOrEqual(t, polls.Load(), int64(2))
}

func TestWaitForJobsFailureIsAttributed(t *testing.T) {
	quickPolling(t)
	server, mux := newTestServer(t)
	var polls atomic.Int64
	serveJobs(mux, func() string {
		if polls.Add(1) == 1 {
			return waitCatalog("queued", "queued")
		}
		return waitCatalog("ready", "error")
	})

	client := newTestClient(t, server)
	err := client.WaitForJobs([]JobID{10, 20})
	require.Error(t, err)

	var jfe *JobFailedError
	require.ErrorAs(t, err, &jfe)
	assert.Equal(t, JobID(20), jfe.JobID)
	assert.Contains(t, jfe.Error(), "gpubox files lost")
}

func TestWaitForJobsExpired(t *testing.T) {
	quickPolling(t)
	server, mux := newTestServer(t)
	serveJobs(mux, func() string {
		return waitCatalog("expired", "ready")
	})

	client := newTestClient(t, server)
	err := client.WaitForJobs([]JobID{10})
	var jfe *JobFailedError
	require.ErrorAs(t, err, &jfe)
	assert.Equal(t, JobID(10), jfe.JobID)
	assert.Contains(t, jfe.Error(), "has expired")
}

func TestWaitForJobsMissingJob(t *testing.T) {
	quickPolling(t)
	server, mux := newTestServer(t)
	serveJobs(mux, func() string {
		return waitCatalog("ready", "ready")
	})

	client := newTestClient(t, server)
	err := client.WaitForJobs([]JobID{10, 30})
	var nsj *NoSuchJobError
	require.ErrorAs(t, err, &nsj)
	assert.Equal(t, JobID(30), nsj.JobID)
}

// An unknown state name means "not yet ready", so the wait keeps
// polling instead of giving up.
func TestWaitForJobsUnknownStateKeepsWaiting(t *testing.T) {
	quickPolling(t)
	server, mux := newTestServer(t)
	var polls atomic.Int64
	serveJobs(mux, func() string {
		if polls.Add(1) < 3 {
			return waitCatalog("quiescing", "ready")
		}
		return waitCatalog("ready", "ready")
	})

	client := newTestClient(t, server)
	require.NoError(t, client.WaitForJobs([]JobID{10}))
	assert.GreaterOrEqual(t, polls.Load(), int64(3))
}
