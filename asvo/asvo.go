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

// Package asvo is a client for the MWA ASVO job service: submit
// data-retrieval jobs, poll them until they are ready, and download
// their file products with resume, hash verification and bounded
// concurrency.
package asvo

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mwatelescope/giant-squid-go/config"
)

// DefaultConversionParameters are the Birli settings used for conversion
// jobs when the caller doesn't override them: measurement set output,
// 4s time averaging, 40kHz channels, 160kHz edge flagging, allow missing
// gpubox files, flag centre channels.
var DefaultConversionParameters = map[string]string{
	"download_type":  "conversion",
	"conversion":     "ms",
	"timeres":        "4",
	"freqres":        "40",
	"edgewidth":      "160",
	"allowmissing":   "true",
	"flagdcchannels": "true",
}

// Client is one authenticated session with the ASVO.  It is safe to use
// from a single goroutine; concurrent downloads each construct their
// own Client (see DownloadMany).
type Client struct {
	http *http.Client
	cfg  config.Config
}

// NewClient authenticates against the ASVO and returns a usable
// session.  The login cookie lives in the client's jar; the rest of the
// package treats the session as an opaque "send request, get response"
// capability.
func NewClient(cfg config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct a cookie jar")
	}
	c := &Client{
		http: &http.Client{Jar: jar},
		cfg:  cfg,
	}

	log.Debugln("Connecting to ASVO at", cfg.Host)
	req, err := http.NewRequest(http.MethodPost, cfg.Host+"/api/login", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build the login request")
	}
	req.SetBasicAuth(cfg.ClientVersion, cfg.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "login request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &BadStatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return c, nil
}

// GetJobs fetches the caller's current job listing.  Every call
// re-fetches; there is no caching.
func (c *Client) GetJobs() (JobList, error) {
	log.Debugln("Retrieving job statuses from the ASVO...")
	resp, err := c.http.Get(c.cfg.Host + "/api/get_jobs")
	if err != nil {
		return nil, errors.Wrap(err, "get_jobs request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read the get_jobs response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &BadStatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return parseJobList(body)
}

// SubmitOptions are the knobs common to every job submission.
type SubmitOptions struct {
	// Delivery tells the ASVO where to put the job's products:
	// "acacia" (cloud, signed URLs) or "scratch" (shared filesystem).
	Delivery string

	// DeliveryFormat optionally requests a format, e.g. "tar".
	// Ignored by the server for acacia delivery, which is always tar.
	DeliveryFormat string

	// AllowResubmit permits queuing a job whose parameters exactly
	// match one already in the queue.
	AllowResubmit bool

	// ExpiryDays asks the server to keep the products for this many
	// days.  Zero leaves the server default in place.
	ExpiryDays int
}

// SubmitVisibilities submits a raw visibility download job for obsid.
func (c *Client) SubmitVisibilities(obsid Obsid, opts SubmitOptions) (SubmitOutcome, error) {
	form := url.Values{}
	form.Set("obs_id", obsid.String())
	form.Set("download_type", "vis")
	opts.apply(form)
	return c.submitJob(JobTypeDownloadVisibilities, form)
}

// SubmitMetadata submits a metadata (metafits and flags) download job.
func (c *Client) SubmitMetadata(obsid Obsid, opts SubmitOptions) (SubmitOutcome, error) {
	form := url.Values{}
	form.Set("obs_id", obsid.String())
	form.Set("download_type", "vis_meta")
	opts.apply(form)
	return c.submitJob(JobTypeDownloadMetadata, form)
}

// SubmitVoltage submits a voltage download job covering duration
// seconds starting offset seconds into the observation.
func (c *Client) SubmitVoltage(obsid Obsid, offset, duration int, opts SubmitOptions) (SubmitOutcome, error) {
	form := url.Values{}
	form.Set("obs_id", obsid.String())
	form.Set("download_type", "volt")
	form.Set("offset", strconv.Itoa(offset))
	form.Set("duration", strconv.Itoa(duration))
	opts.apply(form)
	return c.submitJob(JobTypeDownloadVoltage, form)
}

// SubmitConversion submits a conversion job.  params overrides
// DefaultConversionParameters key by key.
func (c *Client) SubmitConversion(obsid Obsid, params map[string]string, opts SubmitOptions) (SubmitOutcome, error) {
	form := url.Values{}
	form.Set("obs_id", obsid.String())
	for k, v := range DefaultConversionParameters {
		form.Set(k, v)
	}
	for k, v := range params {
		form.Set(k, v)
	}
	opts.apply(form)
	return c.submitJob(JobTypeConversion, form)
}

func (o SubmitOptions) apply(form url.Values) {
	if o.Delivery != "" {
		form.Set("delivery", o.Delivery)
	}
	if o.DeliveryFormat != "" {
		form.Set("delivery_format", o.DeliveryFormat)
	}
	if o.ExpiryDays > 0 {
		form.Set("expiry_days", strconv.Itoa(o.ExpiryDays))
	}
	form.Set("allow_resubmit", strconv.FormatBool(o.AllowResubmit))
}

// submitJob performs the form POST shared by every submission and runs
// the response through the shape interpreter.  A fatal rejection is
// returned both as the outcome and as a *BadRequestError so batch
// callers stop.
func (c *Client) submitJob(jt JobType, form url.Values) (SubmitOutcome, error) {
	var apiPath string
	switch jt {
	case JobTypeConversion:
		apiPath = "conversion_job"
	case JobTypeDownloadVisibilities, JobTypeDownloadMetadata:
		apiPath = "download_vis_job"
	case JobTypeDownloadVoltage:
		apiPath = "voltage_job"
	default:
		return SubmitOutcome{}, errors.Errorf("tried to submit an ASVO job with a type (%s) that isn't supported", jt)
	}

	resp, err := c.http.PostForm(c.cfg.Host+"/api/"+apiPath, form)
	if err != nil {
		return SubmitOutcome{}, errors.Wrapf(err, "%s request failed", apiPath)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitOutcome{}, errors.Wrap(err, "failed to read the submission response")
	}

	outcome, err := interpretSubmitResponse(body)
	if err != nil {
		// The body isn't any JSON shape we know.  If the status was
		// also bad, that is the more useful report.
		if resp.StatusCode != http.StatusOK {
			return SubmitOutcome{}, &BadStatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return SubmitOutcome{}, err
	}
	if outcome.Kind == SubmitFatal {
		return outcome, &BadRequestError{Code: outcome.Code, Message: outcome.Message}
	}
	return outcome, nil
}

// CancelJob asks the server to cancel the given job.  On success the
// cancelled job's ID is returned; if the server reports the job can't
// be cancelled (unknown ID, or already past the point of no return),
// nil is returned with no error.
func (c *Client) CancelJob(id JobID) (*JobID, error) {
	u := c.cfg.Host + "/api/cancel_job?job_id=" + strconv.FormatUint(uint64(id), 10)
	resp, err := c.http.Get(u)
	if err != nil {
		return nil, errors.Wrap(err, "cancel_job request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return &id, nil
	case http.StatusBadRequest, http.StatusNotFound:
		log.Warnf("Job %d was not cancelled: %s", id, strings.TrimSpace(string(body)))
		return nil, nil
	}
	return nil, &BadStatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
