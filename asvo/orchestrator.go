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
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mwatelescope/giant-squid-go/config"
)

// DownloadTarget names one thing to download: either a job directly or
// the single job belonging to an obsid.  Exactly one field is set.
type DownloadTarget struct {
	JobID JobID
	Obsid Obsid
}

func (t DownloadTarget) String() string {
	if t.JobID != 0 {
		return fmt.Sprintf("job %d", t.JobID)
	}
	return fmt.Sprintf("obsid %s", t.Obsid)
}

// DownloadOutcome is the final result for one target.
type DownloadOutcome struct {
	Target DownloadTarget
	Err    error
}

// DownloadReport collects every target's outcome.  Failures never
// cancel sibling downloads; they are all reported here, together, after
// everything has finished.
type DownloadReport struct {
	Outcomes []DownloadOutcome
}

// Failed returns the outcomes that ended in error.
func (r *DownloadReport) Failed() []DownloadOutcome {
	var out []DownloadOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Err summarizes the report as a single error, or nil if every target
// succeeded.
func (r *DownloadReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, len(failed))
	for i, o := range failed {
		parts[i] = fmt.Sprintf("%s: %v", o.Target, o.Err)
	}
	return fmt.Errorf("%d of %d downloads failed: [%s]", len(failed), len(r.Outcomes), strings.Join(parts, "; "))
}

// DownloadMany runs up to limit job downloads at once (limit 0 means
// "use the available parallelism").  Each worker authenticates its own
// session, so no session state is shared across goroutines; the only
// shared mutable resource is whatever progress display sits behind
// opts.Callback, which must serialize internally.
func DownloadMany(cfg config.Config, targets []DownloadTarget, opts DownloadOptions, limit int) DownloadReport {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	report := DownloadReport{Outcomes: make([]DownloadOutcome, len(targets))}

	grp := errgroup.Group{}
	grp.SetLimit(limit)
	for i, target := range targets {
		i, target := i, target
		report.Outcomes[i].Target = target
		grp.Go(func() error {
			// Outcomes are recorded, never returned: one target's
			// failure must not stop the others.
			report.Outcomes[i].Err = downloadOne(cfg, target, opts)
			return nil
		})
	}
	_ = grp.Wait()

	for _, o := range report.Outcomes {
		if o.Err != nil {
			log.Errorf("Download of %s failed: %v", o.Target, o.Err)
		}
	}
	return report
}

func downloadOne(cfg config.Config, target DownloadTarget, opts DownloadOptions) error {
	client, err := NewClient(cfg)
	if err != nil {
		return err
	}
	if target.JobID != 0 {
		return client.DownloadJob(target.JobID, opts)
	}
	return client.DownloadObsid(target.Obsid, opts)
}
