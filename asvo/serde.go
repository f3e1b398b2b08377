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

// Decoding for the ASVO's JSON responses.
//
// The job-listing endpoint has gone through two wire generations: v1
// returned an array of *strings*, each string containing the JSON of one
// job row, with job type and state as small integers; v2 returns the
// rows as plain objects with string-valued type and state.  Both are
// normalized here, through a single pair of reviewable tables, into the
// closed enums in types.go.
//
// The submission endpoint is worse: its response JSON carries no
// discriminator field, so the only way to classify it is to try a fixed
// list of shapes, most specific first.  That order is a load-bearing
// invariant (a payload can satisfy more than one shape) and lives in
// submitShapeOrder, not in any accidental declaration order.

package asvo

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// jobTypeCodes and jobStateCodes are the complete v1 integer protocol.
// A code outside these tables is a decode error; the v1 sets are closed.
var jobTypeCodes = map[int]JobType{
	0: JobTypeConversion,
	1: JobTypeDownloadVisibilities,
	2: JobTypeDownloadMetadata,
	3: JobTypeDownloadVoltage,
	4: JobTypeCancel,
}

var jobStateCodes = map[int]JobState{
	0: JobStateQueued,
	1: JobStateProcessing,
	2: JobStateReady,
	3: JobStateError,
	4: JobStateExpired,
	5: JobStateCancelled,
}

// jobTypeNames and jobStateNames are the v2 string protocol.  Unknown
// state names normalize to JobStateUnknown (treated as "not yet ready")
// so new upstream states never break this client; unknown type names are
// a decode error, since every operation branches on the type.
var jobTypeNames = map[string]JobType{
	"conversion":             JobTypeConversion,
	"download_visibilities":  JobTypeDownloadVisibilities,
	"download_metadata":      JobTypeDownloadMetadata,
	"download_voltage":       JobTypeDownloadVoltage,
	"cancel_job":             JobTypeCancel,
}

var jobStateNames = map[string]JobState{
	"queued":        JobStateQueued,
	"processing":    JobStateProcessing,
	"staging":       JobStateStaging,
	"staged":        JobStateStaged,
	"downloading":   JobStateDownloading,
	"preprocessing": JobStatePreprocessing,
	"imaging":       JobStateImaging,
	"delivering":    JobStateDelivering,
	"ready":         JobStateReady,
	"completed":     JobStateReady,
	"error":         JobStateError,
	"expired":       JobStateExpired,
	"cancelled":     JobStateCancelled,
}

type (
	wireJob struct {
		Row wireRow `json:"row"`
	}

	wireRow struct {
		ID        JobID           `json:"id"`
		JobType   json.RawMessage `json:"job_type"`
		JobState  json.RawMessage `json:"job_state"`
		JobParams wireParams      `json:"job_params"`
		ErrorText *string         `json:"error_text"`
		Product   *wireProduct    `json:"product"`
	}

	wireParams struct {
		// The obsid is transmitted as a numeric string.
		ObsID string `json:"obs_id"`
	}

	wireProduct struct {
		Files []wireFile `json:"files"`
	}

	wireFile struct {
		Type string `json:"type"`
		Name string `json:"file_name"`
		Size int64  `json:"size"`
		SHA1 string `json:"sha1"`
		URL  string `json:"url"`
		Path string `json:"path"`

		// v1 field names.
		FileSize int64 `json:"file_size"`
	}
)

// parseJobList decodes the body of a get_jobs response.
func parseJobList(body []byte) (JobList, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, errors.Wrap(err, "couldn't decode the JSON from the ASVO response")
	}

	jobs := make(JobList, 0, len(elems))
	for _, elem := range elems {
		var wj wireJob
		// v1 double-encodes each row as a string.
		var encoded string
		if err := json.Unmarshal(elem, &encoded); err == nil {
			if err := json.Unmarshal([]byte(encoded), &wj); err != nil {
				return nil, errors.Wrap(err, "couldn't decode a job row from the ASVO response")
			}
		} else if err := json.Unmarshal(elem, &wj); err != nil {
			return nil, errors.Wrap(err, "couldn't decode a job row from the ASVO response")
		}

		job, err := wj.Row.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *wireRow) toJob() (Job, error) {
	job := Job{ID: r.ID}

	obsid, err := ParseObsid(r.JobParams.ObsID)
	if err != nil {
		return Job{}, errors.Wrapf(err, "job %d has an invalid obs_id %q", r.ID, r.JobParams.ObsID)
	}
	job.Obsid = obsid

	if job.Type, err = decodeJobType(r.JobType); err != nil {
		return Job{}, errors.Wrapf(err, "job %d", r.ID)
	}
	if job.State, job.StateText, err = decodeJobState(r.JobState); err != nil {
		return Job{}, errors.Wrapf(err, "job %d", r.ID)
	}
	if job.State == JobStateError && r.ErrorText != nil {
		job.ErrorText = *r.ErrorText
	}

	if r.Product != nil {
		for _, wf := range r.Product.Files {
			job.Files = append(job.Files, wf.toDeliveryFile())
		}
	}
	return job, nil
}

func decodeJobType(raw json.RawMessage) (JobType, error) {
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		if t, ok := jobTypeCodes[code]; ok {
			return t, nil
		}
		return 0, errors.Errorf("unrecognized job_type code %d", code)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, errors.Errorf("job_type %s is neither an integer nor a string", string(raw))
	}
	if t, ok := jobTypeNames[strings.ToLower(name)]; ok {
		return t, nil
	}
	return 0, errors.Errorf("unrecognized job_type %q", name)
}

func decodeJobState(raw json.RawMessage) (JobState, string, error) {
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		if s, ok := jobStateCodes[code]; ok {
			return s, "", nil
		}
		return 0, "", errors.Errorf("unrecognized job_state code %d", code)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, "", errors.Errorf("job_state %s is neither an integer nor a string", string(raw))
	}
	if s, ok := jobStateNames[strings.ToLower(name)]; ok {
		return s, "", nil
	}
	// A state this client doesn't know about.  Carry the raw text and
	// treat the job as not yet ready.
	return JobStateUnknown, name, nil
}

func (wf *wireFile) toDeliveryFile() DeliveryFile {
	f := DeliveryFile{
		Name: wf.Name,
		Size: wf.Size,
		SHA1: wf.SHA1,
		URL:  wf.URL,
		Path: wf.Path,
	}
	if f.Size == 0 {
		f.Size = wf.FileSize
	}
	if wf.Type == "scratch" || (wf.URL == "" && wf.Path != "") {
		f.Kind = DeliveryScratch
	} else {
		f.Kind = DeliveryCloud
	}
	return f
}

// Submission responses.

type SubmitOutcomeKind int

const (
	// SubmitNew: the job was freshly created.
	SubmitNew SubmitOutcomeKind = iota

	// SubmitDuplicate: an equivalent job already existed and nothing
	// new was queued.  Not an error.
	SubmitDuplicate

	// SubmitRecoverable: the request was rejected, but in a way the
	// caller may treat as "no job created, continue with the rest of
	// the batch" (e.g. the observation has no files).
	SubmitRecoverable

	// SubmitFatal: any other rejection; the caller's batch must stop.
	SubmitFatal
)

// SubmitOutcome is the interpreted result of one job-submission request.
type SubmitOutcome struct {
	Kind    SubmitOutcomeKind
	JobID   JobID
	Code    int
	Message string
}

func (k SubmitOutcomeKind) String() string {
	switch k {
	case SubmitNew:
		return "new"
	case SubmitDuplicate:
		return "duplicate"
	case SubmitRecoverable:
		return "recoverable"
	case SubmitFatal:
		return "fatal"
	}
	return "unknown"
}

// The server reports "an equivalent job is already queued" with this
// error code.
const duplicateJobErrorCode = 2

// Error code attached to rejections that arrive with no code at all.
const genericErrorCode = 666

// recoverableSubmitPatterns are the rejection messages that mean "this
// observation can't produce a job, but nothing is wrong with your
// request"; matched case-insensitively as substrings.
var recoverableSubmitPatterns = []string{
	"has no files",
	"does not exist",
}

var errUnrecognizedSubmitResponse = errors.New("submission response did not match any known shape")

// submitProbe holds the union of every field any submission-response
// shape can carry.  Pointers record field presence.
type submitProbe struct {
	Error     *string `json:"error"`
	ErrorCode *int    `json:"error_code"`
	JobID     *JobID  `json:"job_id"`
}

// submitShapeOrder is the fixed priority order of response shapes: most
// field-specific first, so a general shape can never shadow a specific
// one.  Do not reorder.
var submitShapeOrder = []func(p *submitProbe) (SubmitOutcome, bool){
	matchErrorWithJobID, // {error, error_code, job_id}
	matchJobID,          // {job_id}
	matchErrorWithCode,  // {error_code, error}
	matchGenericError,   // {error}
}

func matchErrorWithJobID(p *submitProbe) (SubmitOutcome, bool) {
	if p.Error == nil || p.ErrorCode == nil || p.JobID == nil {
		return SubmitOutcome{}, false
	}
	if *p.ErrorCode == duplicateJobErrorCode {
		return SubmitOutcome{Kind: SubmitDuplicate, JobID: *p.JobID, Code: *p.ErrorCode, Message: *p.Error}, true
	}
	return SubmitOutcome{Kind: SubmitFatal, JobID: *p.JobID, Code: *p.ErrorCode, Message: *p.Error}, true
}

func matchJobID(p *submitProbe) (SubmitOutcome, bool) {
	if p.JobID == nil {
		return SubmitOutcome{}, false
	}
	return SubmitOutcome{Kind: SubmitNew, JobID: *p.JobID}, true
}

func matchErrorWithCode(p *submitProbe) (SubmitOutcome, bool) {
	if p.ErrorCode == nil || p.Error == nil {
		return SubmitOutcome{}, false
	}
	if *p.ErrorCode == 0 && isRecoverableSubmitMessage(*p.Error) {
		return SubmitOutcome{Kind: SubmitRecoverable, Code: *p.ErrorCode, Message: *p.Error}, true
	}
	return SubmitOutcome{Kind: SubmitFatal, Code: *p.ErrorCode, Message: *p.Error}, true
}

func matchGenericError(p *submitProbe) (SubmitOutcome, bool) {
	if p.Error == nil {
		return SubmitOutcome{}, false
	}
	return SubmitOutcome{Kind: SubmitFatal, Code: genericErrorCode, Message: *p.Error}, true
}

func isRecoverableSubmitMessage(msg string) bool {
	lowered := strings.ToLower(msg)
	for _, pat := range recoverableSubmitPatterns {
		if strings.Contains(lowered, pat) {
			return true
		}
	}
	return false
}

// interpretSubmitResponse classifies the raw JSON body of a submission
// response.  If the body matches none of the known shapes, the server
// and client disagree about the protocol and we surface a decode error
// rather than guess.
func interpretSubmitResponse(body []byte) (SubmitOutcome, error) {
	var probe submitProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return SubmitOutcome{}, errors.Wrap(err, "couldn't decode the JSON from the ASVO response")
	}
	for _, match := range submitShapeOrder {
		if outcome, ok := match(&probe); ok {
			return outcome, nil
		}
	}
	return SubmitOutcome{}, errors.Wrapf(errUnrecognizedSubmitResponse, "body: %s", string(body))
}
