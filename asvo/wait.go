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
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// waitGraceSleep gives the service a moment after submission so
	// the user's queue is hopefully current before the first poll.
	waitGraceSleep = 5 * time.Second

	// waitPollInterval is the sleep between catalog fetches.
	waitPollInterval = time.Minute
)

// WaitForJobs blocks until every listed job reaches the Ready state.
//
// A job missing from the catalog, or one reaching Error, Expired or
// Cancelled, fails the whole wait immediately: those outcomes are
// definitive, and partial readiness is useless to a caller who asked
// for a specific set.  State changes are logged once per transition,
// not once per poll.
func (c *Client) WaitForJobs(ids []JobID) error {
	log.Infof("Waiting for %d jobs to be ready...", len(ids))
	lastState := make(map[JobID]string, len(ids))
	time.Sleep(waitGraceSleep)
	for {
		jobs, err := c.GetJobs()
		if err != nil {
			return err
		}
		byID := jobs.ToMap()
		anyNotReady := false
		for _, id := range ids {
			job, ok := byID[id]
			if !ok {
				return &NoSuchJobError{JobID: id}
			}
			switch job.State {
			case JobStateReady:
			case JobStateError:
				return &JobFailedError{JobID: id, Obsid: job.Obsid, State: job.State, Message: job.ErrorText}
			case JobStateExpired, JobStateCancelled:
				return &JobFailedError{JobID: id, Obsid: job.Obsid, State: job.State}
			default:
				anyNotReady = true
			}
			state := job.StateString()
			if prev, seen := lastState[id]; seen && prev != state {
				log.Infof("Job %d is %s", id, state)
			}
			lastState[id] = state
		}
		if !anyNotReady {
			break
		}
		time.Sleep(waitPollInterval)
	}
	log.Infof("All %d ASVO jobs are ready for download.", len(ids))
	return nil
}
