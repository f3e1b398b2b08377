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
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// unpackStream decodes a tar (optionally gzipped) byte stream directly
// into destDir, entry by entry, creating intermediate directories on
// demand.  The format is sniffed from the stream's first bytes.
func unpackStream(r io.Reader, destDir string, bufSize int) error {
	if bufSize < 512 {
		bufSize = 512
	}
	br := bufio.NewReaderSize(r, bufSize)

	// gzip streams start with 1F 8B.
	head, err := br.Peek(2)
	if err != nil {
		return errors.Wrap(err, "failed to read the start of the archive stream")
	}
	var src io.Reader = br
	if bytes.Equal(head, []byte{0x1F, 0x8B}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "failed to open the gzip stream")
		}
		src = gz
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return Permanent(errors.Wrap(err, "failed to resolve the destination directory"))
	}
	if err := os.MkdirAll(absDest, 0777); err != nil {
		return Permanent(errors.Wrap(err, "failed to create the destination directory"))
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to decode the tar stream")
		}

		// The archive's own "current directory" entry carries nothing.
		cleaned := strings.TrimPrefix(filepath.Clean(hdr.Name), "./")
		if cleaned == "." || cleaned == "" {
			continue
		}
		destPath := filepath.Join(absDest, cleaned)
		if !strings.HasPrefix(destPath, absDest+string(os.PathSeparator)) {
			return Permanent(errors.Errorf("archive contains an entry outside the destination directory: %s", hdr.Name))
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, fs.FileMode(hdr.Mode)); err != nil {
				return Permanent(errors.Wrapf(err, "failed to create directory %s", destPath))
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0777); err != nil {
				return Permanent(errors.Wrapf(err, "failed to create directory for %s", destPath))
			}
			if err := writeRegularFile(destPath, hdr.Mode, tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, destPath); err != nil {
				return Permanent(errors.Wrapf(err, "failed to create symlink at %s", destPath))
			}
		default:
			log.Debugln("Ignoring tar entry of type", hdr.Typeflag, "at", destPath)
		}
	}
}

func writeRegularFile(destPath string, mode int64, r io.Reader) error {
	fp, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(mode))
	if err != nil {
		return Permanent(errors.Wrapf(err, "failed to create %s", destPath))
	}
	defer fp.Close()
	if _, err := io.Copy(&diskWriter{w: fp}, r); err != nil {
		// Already tagged if the disk side failed; a short read from
		// the stream stays transient.
		return errors.Wrapf(err, "failed to unpack %s", destPath)
	}
	return nil
}
