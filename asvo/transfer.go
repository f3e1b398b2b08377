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
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TransferCallback receives progress updates for one file transfer.
// xfer counts bytes present locally (including any resumed prefix);
// completed fires exactly once, when the transfer finishes or fails.
type TransferCallback func(name string, xfer int64, size int64, completed bool)

// DownloadOptions control how a job's files are fetched.
type DownloadOptions struct {
	// Dir is the destination directory.  Defaults to the current
	// directory.
	Dir string

	// KeepArchive keeps the delivered archive as-is instead of
	// stream-extracting it.  Only this path supports resumption.
	KeepArchive bool

	// VerifyHash compares the transferred byte stream's SHA-1 against
	// the manifest.
	VerifyHash bool

	// AllowResume continues interrupted archive downloads from the
	// bytes already on disk.
	AllowResume bool

	// Callback, if non-nil, receives progress updates.
	Callback TransferCallback
}

// DownloadJob downloads the file products of the given job ID.
func (c *Client) DownloadJob(id JobID, opts DownloadOptions) error {
	jobs, err := c.GetJobs()
	if err != nil {
		return err
	}
	log.Debugln("Attempting to download job", id)
	job := jobs.ByID(id)
	if job == nil {
		return &NoSuchJobError{JobID: id}
	}
	return c.downloadJob(job, opts)
}

// DownloadObsid downloads the job associated with an obsid.  If the
// obsid has more than one job we must abort: the client can't know
// which one the caller meant, even if only one is Ready.
func (c *Client) DownloadObsid(obsid Obsid, opts DownloadOptions) error {
	jobs, err := c.GetJobs()
	if err != nil {
		return err
	}
	log.Debugln("Attempting to download obsid", obsid)
	matches := jobs.ByObsid(obsid)
	switch len(matches) {
	case 0:
		return &NoSuchObsidError{Obsid: obsid}
	case 1:
		return c.downloadJob(&matches[0], opts)
	}
	return &TooManyJobsError{Obsid: obsid, Count: len(matches)}
}

func (c *Client) downloadJob(job *Job, opts DownloadOptions) error {
	switch job.State {
	case JobStateReady:
	case JobStateError, JobStateExpired, JobStateCancelled:
		return &JobFailedError{JobID: job.ID, Obsid: job.Obsid, State: job.State, Message: job.ErrorText}
	default:
		return &NotReadyError{JobID: job.ID, State: job.StateString()}
	}
	if len(job.Files) == 0 {
		return &NoFilesError{JobID: job.ID}
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}

	total := job.TotalSize()
	log.Infof("Downloading ASVO job ID %d (obsid: %s, type: %s, %s)",
		job.ID, job.Obsid, job.Type, humanize.IBytes(uint64(total)))
	start := time.Now()

	// Files transfer sequentially, in manifest order; concurrency
	// happens across jobs, not within one.
	for i := range job.Files {
		f := &job.Files[i]
		if err := withRetries(func() error {
			return c.downloadFile(job, f, opts)
		}); err != nil {
			return err
		}
	}

	elapsed := time.Since(start)
	if secs := elapsed.Seconds(); secs > 0 {
		log.Infof("Completed download of job %d in %s (average rate: %s/s)",
			job.ID, elapsed.Round(100*time.Millisecond),
			humanize.IBytes(uint64(float64(total)/secs)))
	}
	return nil
}

// downloadFile performs one attempt at one manifest entry.  Errors that
// retrying cannot fix (disk IO, bad manifests, hash mismatches) come
// back tagged permanent.
func (c *Client) downloadFile(job *Job, f *DeliveryFile, opts DownloadOptions) error {
	switch f.Kind {
	case DeliveryScratch:
		return relocateScratch(job, f, opts.Dir)
	case DeliveryCloud:
		if f.URL == "" {
			return Permanent(&ManifestError{JobID: job.ID, File: f.Name, Reason: "cloud delivery entry has no URL"})
		}
		name := f.Name
		if name == "" {
			name = fileNameFromURL(f.URL)
		}
		if name == "" {
			return Permanent(&ManifestError{JobID: job.ID, File: f.URL, Reason: "no usable file name"})
		}
		if opts.KeepArchive {
			return c.downloadArchive(job, f, name, opts)
		}
		return c.downloadExtracting(job, f, name, opts)
	}
	return Permanent(&ManifestError{JobID: job.ID, File: f.Name, Reason: fmt.Sprintf("unknown delivery kind %d", f.Kind)})
}

// relocateScratch handles filesystem-delivered products: if the path is
// visible from this host, move it into the destination; if not, that is
// informational, not an error — the data exists, just not here.
func relocateScratch(job *Job, f *DeliveryFile, destDir string) error {
	if f.Path == "" {
		return Permanent(&ManifestError{JobID: job.ID, File: f.Name, Reason: "scratch delivery entry has no path"})
	}
	if _, err := os.Stat(f.Path); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Job %d delivered %s to %s, which is not reachable from this host; nothing to do",
				job.ID, f.Name, f.Path)
			return nil
		}
		return Permanent(errors.Wrapf(err, "failed to stat scratch delivery %s", f.Path))
	}
	dest := filepath.Join(destDir, filepath.Base(f.Path))
	if err := os.Rename(f.Path, dest); err != nil {
		return Permanent(errors.Wrapf(err, "failed to move %s to %s", f.Path, dest))
	}
	log.Infof("Moved %s to %s", f.Path, dest)
	return nil
}

// downloadArchive fetches a cloud-delivered file without unpacking it.
// This is the resumable path: a partial file on disk becomes a ranged
// request for the remainder, with the existing prefix folded into the
// running hash so the final digest covers the whole file.
func (c *Client) downloadArchive(job *Job, f *DeliveryFile, name string, opts DownloadOptions) error {
	dest := filepath.Join(opts.Dir, name)
	fp, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return Permanent(errors.Wrapf(err, "failed to open %s", dest))
	}
	defer fp.Close()
	info, err := fp.Stat()
	if err != nil {
		return Permanent(errors.Wrapf(err, "failed to stat %s", dest))
	}
	offset := info.Size()
	hasher := sha1.New()

	if offset == f.Size && f.Size > 0 {
		// Probably a finished earlier run.  Decide from the hash, with
		// no network traffic.
		if _, err := io.Copy(hasher, fp); err != nil {
			return Permanent(errors.Wrapf(err, "failed to read back %s", dest))
		}
		sum := hex.EncodeToString(hasher.Sum(nil))
		if f.SHA1 == "" || strings.EqualFold(sum, f.SHA1) {
			log.Infof("%s is already complete; skipping", name)
			reportDone(opts.Callback, name, f.Size)
			return nil
		}
		if !opts.AllowResume {
			log.Warnf("%s exists with the expected size but its hash %s doesn't match %s; resume is disabled, leaving it untouched",
				name, sum, f.SHA1)
			reportDone(opts.Callback, name, f.Size)
			return nil
		}
		offset = 0
		hasher = sha1.New()
	}

	if offset > f.Size || (offset > 0 && !opts.AllowResume) {
		offset = 0
	}
	if offset > 0 {
		// Fold the bytes already on disk into the hash, then append.
		if _, err := fp.Seek(0, io.SeekStart); err != nil {
			return Permanent(errors.Wrapf(err, "failed to seek in %s", dest))
		}
		if _, err := io.CopyN(hasher, fp, offset); err != nil {
			return Permanent(errors.Wrapf(err, "failed to read back %s", dest))
		}
		log.Debugln("Resuming transfer of", name, "starting at offset", offset)
	}
	if err := fp.Truncate(offset); err != nil {
		return Permanent(errors.Wrapf(err, "failed to truncate %s", dest))
	}
	if _, err := fp.Seek(offset, io.SeekStart); err != nil {
		return Permanent(errors.Wrapf(err, "failed to seek in %s", dest))
	}

	req, err := http.NewRequest(http.MethodGet, f.URL, nil)
	if err != nil {
		return Permanent(errors.Wrapf(err, "failed to build a request for %s", f.URL))
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to download %s", name)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			// The server ignored our range; start over.
			log.Debugln("Server ignored the range request for", name, "; restarting from byte zero")
			offset = 0
			hasher = sha1.New()
			if err := fp.Truncate(0); err != nil {
				return Permanent(errors.Wrapf(err, "failed to truncate %s", dest))
			}
			if _, err := fp.Seek(0, io.SeekStart); err != nil {
				return Permanent(errors.Wrapf(err, "failed to seek in %s", dest))
			}
		}
	case http.StatusPartialContent:
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &BadStatusError{Code: resp.StatusCode, Message: "download of " + name + " failed"}
	}

	buf := bufio.NewWriterSize(&diskWriter{w: fp}, c.cfg.BufSize)
	progress := &progressWriter{name: name, total: f.Size, written: offset, callback: opts.Callback}
	defer progress.done()

	if _, err := io.Copy(io.MultiWriter(buf, hasher, progress), resp.Body); err != nil {
		return errors.Wrapf(err, "transfer of %s failed", name)
	}
	if err := buf.Flush(); err != nil {
		return Permanent(errors.Wrapf(err, "failed to flush %s", dest))
	}
	if err := drainIntoHash(resp.Body, hasher); err != nil {
		return errors.Wrapf(err, "failed to drain the response for %s", name)
	}

	return verifyHash(job, f, name, hasher, opts)
}

// downloadExtracting fetches a cloud-delivered archive and unpacks it
// entry by entry into the destination directory.  There is no resume
// here: an interrupted extraction restarts from byte zero.
func (c *Client) downloadExtracting(job *Job, f *DeliveryFile, name string, opts DownloadOptions) error {
	resp, err := c.http.Get(f.URL)
	if err != nil {
		return errors.Wrapf(err, "failed to download %s", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &BadStatusError{Code: resp.StatusCode, Message: "download of " + name + " failed"}
	}

	hasher := sha1.New()
	progress := &progressWriter{name: name, total: f.Size, callback: opts.Callback}
	defer progress.done()

	// Everything read from the body passes through the hash, whether
	// or not the tar decoder wanted it.
	tee := io.TeeReader(resp.Body, io.MultiWriter(hasher, progress))
	log.Debugln("Attempting to unpack stream for", name)
	if err := unpackStream(tee, opts.Dir, c.cfg.BufSize); err != nil {
		return err
	}
	// The decoder stops at the archive's logical end; the hash must
	// cover trailing padding too.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return errors.Wrapf(err, "failed to drain the response for %s", name)
	}

	return verifyHash(job, f, name, hasher, opts)
}

// verifyHash compares the accumulated digest against the manifest.  A
// mismatch does not delete the file; it is left for inspection.
func verifyHash(job *Job, f *DeliveryFile, name string, hasher hash.Hash, opts DownloadOptions) error {
	if !opts.VerifyHash || f.SHA1 == "" {
		return nil
	}
	computed := hex.EncodeToString(hasher.Sum(nil))
	log.Debugf("Upstream hash: %s, our hash: %s", f.SHA1, computed)
	if !strings.EqualFold(computed, f.SHA1) {
		return &HashMismatchError{JobID: job.ID, File: name, Expected: f.SHA1, Computed: computed}
	}
	return nil
}

func drainIntoHash(r io.Reader, hasher hash.Hash) error {
	_, err := io.Copy(hasher, r)
	return err
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func reportDone(cb TransferCallback, name string, size int64) {
	if cb != nil {
		cb(name, size, size, true)
	}
}

// diskWriter tags write failures as permanent so the retry controller
// gives up on them immediately.
type diskWriter struct {
	w io.Writer
}

func (d *diskWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		err = Permanent(err)
	}
	return n, err
}

// progressWriter counts bytes and forwards them to the callback.
type progressWriter struct {
	name     string
	total    int64
	written  int64
	callback TransferCallback
	finished bool
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.callback != nil {
		p.callback(p.name, p.written, p.total, false)
	}
	return len(b), nil
}

func (p *progressWriter) done() {
	if p.finished || p.callback == nil {
		return
	}
	p.finished = true
	p.callback(p.name, p.written, p.total, true)
}
