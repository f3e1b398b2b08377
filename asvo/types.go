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
	"encoding/json"
	"fmt"
	"strings"
)

// JobID identifies one ASVO job.  Distinct from the obsid the job was
// created for; a single obsid may have many jobs over time.
type JobID uint32

type (
	// JobType is the closed set of job kinds the ASVO knows about.
	JobType int

	// JobState is the normalized job state.  The upstream service has
	// transmitted states as small integers (v1) and as strings (v2);
	// both encodings collapse into this enum at the decode boundary.
	JobState int

	// DeliveryKind says how a job's output files are retrieved.
	DeliveryKind int
)

const (
	JobTypeConversion JobType = iota
	JobTypeDownloadVisibilities
	JobTypeDownloadMetadata
	JobTypeDownloadVoltage
	JobTypeCancel
)

const (
	JobStateQueued JobState = iota
	JobStateProcessing
	JobStateStaging
	JobStateStaged
	JobStateDownloading
	JobStatePreprocessing
	JobStateImaging
	JobStateDelivering
	JobStateReady
	JobStateError
	JobStateExpired
	JobStateCancelled

	// JobStateUnknown covers states this client does not recognize.
	// Unknown states are treated as "not yet ready" so that new upstream
	// states never break an older client.
	JobStateUnknown
)

const (
	// DeliveryCloud files are fetched over HTTP from a signed,
	// time-limited URL ("acacia" delivery).
	DeliveryCloud DeliveryKind = iota

	// DeliveryScratch files already sit on a shared filesystem and are
	// located by path ("scratch" delivery).
	DeliveryScratch
)

func (t JobType) String() string {
	switch t {
	case JobTypeConversion:
		return "Conversion"
	case JobTypeDownloadVisibilities:
		return "Download Visibilities"
	case JobTypeDownloadMetadata:
		return "Download Metadata"
	case JobTypeDownloadVoltage:
		return "Download Voltage"
	case JobTypeCancel:
		return "Cancel Job"
	}
	return fmt.Sprintf("JobType(%d)", int(t))
}

func (s JobState) String() string {
	switch s {
	case JobStateQueued:
		return "Queued"
	case JobStateProcessing:
		return "Processing"
	case JobStateStaging:
		return "Staging"
	case JobStateStaged:
		return "Staged"
	case JobStateDownloading:
		return "Downloading"
	case JobStatePreprocessing:
		return "Preprocessing"
	case JobStateImaging:
		return "Imaging"
	case JobStateDelivering:
		return "Delivering"
	case JobStateReady:
		return "Ready"
	case JobStateError:
		return "Error"
	case JobStateExpired:
		return "Expired"
	case JobStateCancelled:
		return "Cancelled"
	case JobStateUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// IsReady reports whether a job's products can be downloaded.
func (s JobState) IsReady() bool {
	return s == JobStateReady
}

// IsTerminal reports whether a job in this state will never change state
// again.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateReady, JobStateError, JobStateExpired, JobStateCancelled:
		return true
	}
	return false
}

// DeliveryFile is one entry of a ready job's file manifest.  Cloud
// entries carry a signed URL which must not be persisted beyond the
// current run; scratch entries carry a filesystem path.
type DeliveryFile struct {
	Kind DeliveryKind `json:"type"`
	Name string       `json:"fileName"`
	Size int64        `json:"fileSize"`
	SHA1 string       `json:"fileHash,omitempty"`
	URL  string       `json:"url,omitempty"`
	Path string       `json:"filePath,omitempty"`
}

// Job is a read-only snapshot of one ASVO job, as of the catalog fetch
// that produced it.  The client never mutates job state locally; truth
// is re-derived from the next fetch.
type Job struct {
	ID    JobID    `json:"jobId"`
	Obsid Obsid    `json:"obsid"`
	Type  JobType  `json:"jobType"`
	State JobState `json:"jobState"`

	// StateText preserves the raw upstream state string when State is
	// JobStateUnknown.
	StateText string `json:"stateText,omitempty"`

	// ErrorText carries the upstream failure message when State is
	// JobStateError.
	ErrorText string `json:"errorText,omitempty"`

	Files []DeliveryFile `json:"files,omitempty"`
}

// StateString renders the state for user display, folding in the error
// message and any unrecognized raw state.
func (j *Job) StateString() string {
	switch j.State {
	case JobStateError:
		return "Error: " + j.ErrorText
	case JobStateUnknown:
		if j.StateText != "" {
			return j.StateText
		}
	}
	return j.State.String()
}

// TotalSize sums the declared sizes of the job's file manifest.
func (j *Job) TotalSize() int64 {
	var total int64
	for _, f := range j.Files {
		total += f.Size
	}
	return total
}

func (j *Job) String() string {
	return fmt.Sprintf("Job ID: %d, obsid: %s, type: %s, state: %s, files: %d",
		j.ID, j.Obsid, j.Type, j.StateString(), len(j.Files))
}

// JobList is one catalog snapshot.  Callers needing consistency across
// multiple filters must fetch once and filter the same snapshot.
type JobList []Job

// ByID returns the job with the given ID, or nil.  Job IDs are unique
// within one snapshot.
func (l JobList) ByID(id JobID) *Job {
	for i := range l {
		if l[i].ID == id {
			return &l[i]
		}
	}
	return nil
}

// ByObsid returns every job created for the given obsid, in snapshot
// order.
func (l JobList) ByObsid(obsid Obsid) JobList {
	return l.Retain(func(j *Job) bool { return j.Obsid == obsid })
}

// Retain returns the subset of jobs matching the predicate.
func (l JobList) Retain(keep func(j *Job) bool) JobList {
	var out JobList
	for i := range l {
		if keep(&l[i]) {
			out = append(out, l[i])
		}
	}
	return out
}

// ToMap converts the snapshot to a map keyed by job ID.  If a listing
// somehow contains the same job ID twice, only one survives.
func (l JobList) ToMap() map[JobID]*Job {
	m := make(map[JobID]*Job, len(l))
	for i := range l {
		m[l[i].ID] = &l[i]
	}
	return m
}

// JSON renders the snapshot as a JSON map of job ID to job.
func (l JobList) JSON() (string, error) {
	m := make(map[string]Job, len(l))
	for _, j := range l {
		m[fmt.Sprint(j.ID)] = j
	}
	out, err := json.Marshal(m)
	return string(out), err
}

func (k DeliveryKind) String() string {
	switch k {
	case DeliveryCloud:
		return "acacia"
	case DeliveryScratch:
		return "scratch"
	}
	return fmt.Sprintf("DeliveryKind(%d)", int(k))
}

// The enums render as their display names in JSON listings, matching
// what `giant-squid list --json` has always produced.

func (t JobType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (k DeliveryKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// ParseJobType converts a user-supplied type name ("download_visibilities",
// case insensitive) to a JobType.
func ParseJobType(s string) (JobType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conversion":
		return JobTypeConversion, nil
	case "download_visibilities":
		return JobTypeDownloadVisibilities, nil
	case "download_metadata":
		return JobTypeDownloadMetadata, nil
	case "download_voltage":
		return JobTypeDownloadVoltage, nil
	case "cancel_job":
		return JobTypeCancel, nil
	}
	return 0, fmt.Errorf("unrecognized job type %q", s)
}

// ParseJobState converts a user-supplied state name ("ready", case
// insensitive) to a JobState.  Only the states this client names are
// accepted here; this is for filtering, not wire decoding.
func ParseJobState(s string) (JobState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return JobStateQueued, nil
	case "processing":
		return JobStateProcessing, nil
	case "staging":
		return JobStateStaging, nil
	case "staged":
		return JobStateStaged, nil
	case "downloading":
		return JobStateDownloading, nil
	case "preprocessing":
		return JobStatePreprocessing, nil
	case "imaging":
		return JobStateImaging, nil
	case "delivering":
		return JobStateDelivering, nil
	case "ready":
		return JobStateReady, nil
	case "error":
		return JobStateError, nil
	case "expired":
		return JobStateExpired, nil
	case "cancelled":
		return JobStateCancelled, nil
	}
	return 0, fmt.Errorf("unrecognized job state %q", s)
}
