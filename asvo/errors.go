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
	"errors"
	"fmt"
	"net"
	"net/http"
)

type (
	// BadStatusError is returned when the server responds with an
	// unexpected HTTP status.
	BadStatusError struct {
		Code    int
		Message string
	}

	// BadRequestError is a fatal submission rejection: the server
	// refused the job in a way the caller cannot recover from.
	BadRequestError struct {
		Code    int
		Message string
	}

	// NoSuchJobError indicates a job ID absent from the user's listing.
	NoSuchJobError struct {
		JobID JobID
	}

	// NoSuchObsidError indicates an obsid with no jobs in the listing.
	NoSuchObsidError struct {
		Obsid Obsid
	}

	// TooManyJobsError indicates an obsid with more than one job; the
	// client cannot know which one the caller meant.
	TooManyJobsError struct {
		Obsid Obsid
		Count int
	}

	// NotReadyError indicates a download was requested for a job that
	// has not reached the Ready state.
	NotReadyError struct {
		JobID JobID
		State string
	}

	// JobFailedError reports a job that reached a terminal failure
	// state (Error, Expired or Cancelled).  It is definitive; waiting
	// longer or retrying cannot help.
	JobFailedError struct {
		JobID   JobID
		Obsid   Obsid
		State   JobState
		Message string
	}

	// HashMismatchError reports that a fully-transferred file's SHA-1
	// did not match the manifest.  The file is left on disk for
	// inspection.
	HashMismatchError struct {
		JobID    JobID
		File     string
		Expected string
		Computed string
	}

	// ManifestError reports a malformed file manifest entry (no usable
	// locator, missing hash).  The job's own data is broken; this is
	// not a transfer failure.
	ManifestError struct {
		JobID  JobID
		File   string
		Reason string
	}

	// NoFilesError reports a Ready job with an empty file manifest.
	NoFilesError struct {
		JobID JobID
	}
)

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("the server responded with status code %d, message: %s", e.Code, e.Message)
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("the server rejected the request (code %d): %s", e.Code, e.Message)
}

func (e *NoSuchJobError) Error() string {
	return fmt.Sprintf("ASVO job ID %d wasn't found in your list of jobs", e.JobID)
}

func (e *NoSuchObsidError) Error() string {
	return fmt.Sprintf("obsid %s wasn't found in your list of jobs", e.Obsid)
}

func (e *TooManyJobsError) Error() string {
	return fmt.Sprintf("obsid %s is associated with %d jobs; cannot continue due to ambiguity", e.Obsid, e.Count)
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("ASVO job ID %d isn't ready; current status: %s", e.JobID, e.State)
}

func (e *JobFailedError) Error() string {
	switch e.State {
	case JobStateExpired:
		return fmt.Sprintf("ASVO job ID %d (obsid: %s) has expired", e.JobID, e.Obsid)
	case JobStateCancelled:
		return fmt.Sprintf("ASVO job ID %d (obsid: %s) has been cancelled", e.JobID, e.Obsid)
	}
	return fmt.Sprintf("ASVO job ID %d (obsid: %s) has an error: %s", e.JobID, e.Obsid, e.Message)
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for ASVO job ID %d file %s:\n expected   %s\n calculated %s",
		e.JobID, e.File, e.Expected, e.Computed)
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("ASVO job ID %d has a malformed manifest entry %q: %s", e.JobID, e.File, e.Reason)
}

func (e *NoFilesError) Error() string {
	return fmt.Sprintf("ASVO job ID %d doesn't have any files associated with it", e.JobID)
}

// permanentError tags an error as not worth retrying.  The tag is
// attached at the point the error is produced (a failed disk write, a
// bad manifest) so the retry loop never has to inspect concrete error
// representations.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as permanent: the retry controller surfaces it
// immediately instead of consuming a backoff cycle.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether a failed transfer attempt may be retried.
// Anything carrying the permanent tag, or belonging to the caller-input
// and data-integrity families, is final; network trouble is not.
func IsRetryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	var hme *HashMismatchError
	if errors.As(err, &hme) {
		return false
	}
	var me *ManifestError
	if errors.As(err, &me) {
		return false
	}
	var nfe *NoFilesError
	if errors.As(err, &nfe) {
		return false
	}
	var bre *BadRequestError
	if errors.As(err, &bre) {
		return false
	}
	var jfe *JobFailedError
	if errors.As(err, &jfe) {
		return false
	}

	var bse *BadStatusError
	if errors.As(err, &bse) {
		switch bse.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Everything else (broken streams, unexpected EOFs) is presumed to
	// be a network hiccup.
	return true
}
