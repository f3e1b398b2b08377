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
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwatelescope/giant-squid-go/config"
)

// newTestServer starts an httptest server with a working login endpoint
// and returns it with its mux, so tests can add their own handlers
// (including ones that reference the server's URL).
func newTestServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != config.DefaultClientVersion || pass != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "test-session"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, mux
}

func testConfig(host string) config.Config {
	return config.Config{
		APIKey:        "test-key",
		Host:          host,
		ClientVersion: config.DefaultClientVersion,
		BufSize:       64 * 1024,
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)
	return client
}

// serveJobs registers a get_jobs handler returning a fixed v2 catalog.
func serveJobs(mux *http.ServeMux, body func() string) {
	mux.HandleFunc("/api/get_jobs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body())
	})
}

func cloudJobJSON(id JobID, obsid Obsid, state, name, url string, size int64, sha string) string {
	return fmt.Sprintf(`{"row": {"id": %d, "job_type": "download_visibilities", "job_state": %q,
		"job_params": {"obs_id": %q},
		"product": {"files": [{"type": "acacia", "file_name": %q, "size": %d, "sha1": %q, "url": %q}]}}}`,
		id, state, obsid.String(), name, size, sha, url)
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func testPayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return payload
}

// servePayload serves a byte blob with minimal Range support and counts
// requests.
func servePayload(mux *http.ServeMux, path string, payload []byte, hits *atomic.Int64, ranges *[]string) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		rng := r.Header.Get("Range")
		if ranges != nil {
			*ranges = append(*ranges, rng)
		}
		if rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = w.Write(payload)
			return
		}
		offset, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"), 10, 64)
		if err != nil || offset < 0 || offset > int64(len(payload)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[offset:])
	})
}

func TestDownloadArchive(t *testing.T) {
	server, mux := newTestServer(t)
	payload := testPayload(64 * 1024)
	var hits atomic.Int64
	servePayload(mux, "/dl/1339896408_vis.tar", payload, &hits, nil)
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(1, 1339896408, "ready", "1339896408_vis.tar",
			server.URL+"/dl/1339896408_vis.tar", int64(len(payload)), sha1Hex(payload)) + "]"
	})

	client := newTestClient(t, server)
	dir := t.TempDir()
	err := client.DownloadJob(1, DownloadOptions{Dir: dir, KeepArchive: true, VerifyHash: true, AllowResume: true})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "1339896408_vis.tar"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(1), hits.Load())
}

func TestDownloadArchiveResumes(t *testing.T) {
	server, mux := newTestServer(t)
	payload := testPayload(64 * 1024)
	var hits atomic.Int64
	var ranges []string
	servePayload(mux, "/dl/1339896408_vis.tar", payload, &hits, &ranges)
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(1, 1339896408, "ready", "1339896408_vis.tar",
			server.URL+"/dl/1339896408_vis.tar", int64(len(payload)), sha1Hex(payload)) + "]"
	})

	dir := t.TempDir()
	dest := filepath.Join(dir, "1339896408_vis.tar")
	require.NoError(t, os.WriteFile(dest, payload[:1000], 0644))

	client := newTestClient(t, server)
	err := client.DownloadJob(1, DownloadOptions{Dir: dir, KeepArchive: true, VerifyHash: true, AllowResume: true})
	require.NoError(t, err)

	// Only the remainder travels; the hash still covers the whole file.
	require.Equal(t, []string{"bytes=1000-"}, ranges)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadArchiveRestartsWhenRangeIgnored(t *testing.T) {
	server, mux := newTestServer(t)
	payload := testPayload(32 * 1024)
	// This server has never heard of Range and always sends everything.
	mux.HandleFunc("/dl/full.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	})
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(1, 1339896408, "ready", "full.tar",
			server.URL+"/dl/full.tar", int64(len(payload)), sha1Hex(payload)) + "]"
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "full.tar"), payload[:500], 0644))

	client := newTestClient(t, server)
	err := client.DownloadJob(1, DownloadOptions{Dir: dir, KeepArchive: true, VerifyHash: true, AllowResume: true})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "full.tar"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadAlreadyCompleteSkipsNetwork(t *testing.T) {
	server, mux := newTestServer(t)
	payload := testPayload(16 * 1024)
	var hits atomic.Int64
	servePayload(mux, "/dl/done.tar", payload, &hits, nil)
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(1, 1339896408, "ready", "done.tar",
			server.URL+"/dl/done.tar", int64(len(payload)), sha1Hex(payload)) + "]"
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.tar"), payload, 0644))

	var completions int
	client := newTestClient(t, server)
	err := client.DownloadJob(1, DownloadOptions{
		Dir: dir, KeepArchive: true, VerifyHash: true, AllowResume: true,
		Callback: func(name string, xfer, size int64, completed bool) {
			if completed {
				completions++
				assert.Equal(t, int64(len(payload)), xfer)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), hits.Load(), "a complete, verified file must not touch the network")
	assert.Equal(t, 1, completions)
}

func TestDownloadHashMismatch(t *testing.T) {
	server, mux := newTestServer(t)
	payload := testPayload(8 * 1024)
	var hits atomic.Int64
	servePayload(mux, "/dl/bad.tar", payload, &hits, nil)
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(9, 1339896408, "ready", "bad.tar",
			server.URL+"/dl/bad.tar", int64(len(payload)), "deadbeef") + "]"
	})

	dir := t.TempDir()
	client := newTestClient(t, server)
	err := client.DownloadJob(9, DownloadOptions{Dir: dir, KeepArchive: true, VerifyHash: true, AllowResume: true})
	require.Error(t, err)

	var hme *HashMismatchError
	require.ErrorAs(t, err, &hme)
	assert.Equal(t, JobID(9), hme.JobID)
	assert.Equal(t, "bad.tar", hme.File)
	assert.Equal(t, "deadbeef", hme.Expected)
	assert.Equal(t, sha1Hex(payload), hme.Computed)

	// One attempt only: a hash mismatch is not a network problem.
	assert.Equal(t, int64(1), hits.Load())

	// The bytes stay on disk for inspection.
	got, readErr := os.ReadFile(filepath.Join(dir, "bad.tar"))
	require.NoError(t, readErr)
	assert.Equal(t, payload, got)
}

func TestDownloadSkipHash(t *testing.T) {
	server, mux := newTestServer(t)
	payload := testPayload(4 * 1024)
	var hits atomic.Int64
	servePayload(mux, "/dl/any.tar", payload, &hits, nil)
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(1, 1339896408, "ready", "any.tar",
			server.URL+"/dl/any.tar", int64(len(payload)), "deadbeef") + "]"
	})

	client := newTestClient(t, server)
	err := client.DownloadJob(1, DownloadOptions{Dir: t.TempDir(), KeepArchive: true, VerifyHash: false, AllowResume: true})
	require.NoError(t, err)
}

func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0755}))
	for name, contents := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(contents)),
		}))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestDownloadExtracting(t *testing.T) {
	server, mux := newTestServer(t)
	archive := makeTarGz(t, map[string]string{
		"./1339896408/1339896408.metafits": "SIMPLE = T",
		"./1339896408/flags.zip":           "PK",
	})
	var hits atomic.Int64
	servePayload(mux, "/dl/1339896408_vis.tar.gz", archive, &hits, nil)
	serveJobs(mux, func() string {
		return "[" + cloudJobJSON(1, 1339896408, "ready", "1339896408_vis.tar.gz",
			server.URL+"/dl/1339896408_vis.tar.gz", int64(len(archive)), sha1Hex(archive)) + "]"
	})

	dir := t.TempDir()
	client := newTestClient(t, server)
	err := client.DownloadJob(1, DownloadOptions{Dir: dir, VerifyHash: true, AllowResume: true})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "1339896408", "1339896408.metafits"))
	require.NoError(t, err)
	assert.Equal(t, "SIMPLE = T", string(got))

	// The archive itself is never written to disk on this path.
	_, err = os.Stat(filepath.Join(dir, "1339896408_vis.tar.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadScratchRelocates(t *testing.T) {
	server, mux := newTestServer(t)
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "1339896408.tar")
	require.NoError(t, os.WriteFile(src, []byte("scratch delivery"), 0644))
	serveJobs(mux, func() string {
		return fmt.Sprintf(`[{"row": {"id": 1, "job_type": "download_visibilities", "job_state": "ready",
			"job_params": {"obs_id": "1339896408"},
			"product": {"files": [{"type": "scratch", "file_name": "1339896408.tar", "size": 16, "path": %q}]}}}]`, src)
	})

	dir := t.TempDir()
	client := newTestClient(t, server)
	require.NoError(t, client.DownloadJob(1, DownloadOptions{Dir: dir}))

	got, err := os.ReadFile(filepath.Join(dir, "1339896408.tar"))
	require.NoError(t, err)
	assert.Equal(t, "scratch delivery", string(got))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadScratchUnreachable(t *testing.T) {
	server, mux := newTestServer(t)
	serveJobs(mux, func() string {
		return `[{"row": {"id": 1, "job_type": "download_visibilities", "job_state": "ready",
			"job_params": {"obs_id": "1339896408"},
			"product": {"files": [{"type": "scratch", "file_name": "x.tar", "size": 16,
			"path": "/astro/mwaops/nowhere/x.tar"}]}}}]`
	})

	// The delivery sits on a filesystem this host can't see.  That is
	// informational, not a failure.
	client := newTestClient(t, server)
	assert.NoError(t, client.DownloadJob(1, DownloadOptions{Dir: t.TempDir()}))
}

func TestDownloadJobStateChecks(t *testing.T) {
	server, mux := newTestServer(t)
	serveJobs(mux, func() string {
		return `[` +
			`{"row": {"id": 1, "job_type": "conversion", "job_state": "queued", "job_params": {"obs_id": "1111111111"}}},` +
			`{"row": {"id": 2, "job_type": "conversion", "job_state": "error", "job_params": {"obs_id": "2222222222"}, "error_text": "no disk"}},` +
			`{"row": {"id": 3, "job_type": "conversion", "job_state": "ready", "job_params": {"obs_id": "3333333333"}}},` +
			`{"row": {"id": 4, "job_type": "conversion", "job_state": "ready", "job_params": {"obs_id": "4444444444"},` +
			` "product": {"files": [{"file_name": "a.tar", "size": 1, "url": "http://example.invalid/a.tar"}]}}},` +
			`{"row": {"id": 5, "job_type": "download_visibilities", "job_state": "ready", "job_params": {"obs_id": "4444444444"},` +
			` "product": {"files": [{"file_name": "b.tar", "size": 1, "url": "http://example.invalid/b.tar"}]}}}` +
			`]`
	})
	client := newTestClient(t, server)
	dir := t.TempDir()

	var nre *NotReadyError
	err := client.DownloadJob(1, DownloadOptions{Dir: dir})
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, JobID(1), nre.JobID)

	var jfe *JobFailedError
	err = client.DownloadJob(2, DownloadOptions{Dir: dir})
	require.ErrorAs(t, err, &jfe)
	assert.Contains(t, jfe.Error(), "no disk")

	var nfe *NoFilesError
	err = client.DownloadJob(3, DownloadOptions{Dir: dir})
	require.ErrorAs(t, err, &nfe)

	var nsj *NoSuchJobError
	err = client.DownloadJob(999, DownloadOptions{Dir: dir})
	require.ErrorAs(t, err, &nsj)

	var nso *NoSuchObsidError
	err = client.DownloadObsid(9999999999, DownloadOptions{Dir: dir})
	require.ErrorAs(t, err, &nso)

	// Two jobs for one obsid is ambiguous even though both are ready.
	var tmj *TooManyJobsError
	err = client.DownloadObsid(4444444444, DownloadOptions{Dir: dir})
	require.ErrorAs(t, err, &tmj)
	assert.Equal(t, 2, tmj.Count)
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "a.tar", fileNameFromURL("https://example.invalid/x/a.tar?token=abc"))
	assert.Equal(t, "", fileNameFromURL("https://example.invalid/"))
}
