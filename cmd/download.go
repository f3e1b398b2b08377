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

package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mwatelescope/giant-squid-go/asvo"
)

var (
	downloadDir    string
	keepArchive    bool
	skipHash       bool
	concurrency    int
	downloadDryRun bool

	downloadCmd = &cobra.Command{
		Use:   "download <JOB_ID_OR_OBSID>...",
		Short: "Download the products of ready ASVO jobs",
		Long: `Download the file products of ready ASVO jobs.  Arguments
are job IDs, obsids, or files containing either; an obsid is resolved to
its single matching job.  Partially downloaded archives are resumed,
and every archive is verified against the server's hash.`,
		Args: cobra.MinimumNArgs(1),
		RunE: downloadMain,
	}
)

func init() {
	downloadCmd.Flags().StringVarP(&downloadDir, "download-dir", "d", ".", "Directory to download to")
	downloadCmd.Flags().BoolVarP(&keepArchive, "keep-tar", "k", false, "Keep the tar archive instead of unpacking it")
	downloadCmd.Flags().BoolVarP(&skipHash, "skip-hash", "s", false, "Skip the hash check of downloaded archives")
	downloadCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Number of simultaneous downloads (0 uses all CPUs)")
	downloadCmd.Flags().BoolVarP(&downloadDryRun, "dry-run", "n", false, "Report what would be downloaded without downloading")
	rootCmd.AddCommand(downloadCmd)
}

func downloadMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobIDs, obsids, err := asvo.ParseJobIDsOrObsids(args)
	if err != nil {
		return err
	}
	var targets []asvo.DownloadTarget
	for _, id := range jobIDs {
		targets = append(targets, asvo.DownloadTarget{JobID: id})
	}
	for _, obsid := range obsids {
		targets = append(targets, asvo.DownloadTarget{Obsid: obsid})
	}

	if downloadDryRun {
		for _, t := range targets {
			log.Infof("Would download %s to %s", t, downloadDir)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	bars := newTransferBars()
	bars.launchDisplay(ctx)

	opts := asvo.DownloadOptions{
		Dir:         downloadDir,
		KeepArchive: keepArchive,
		VerifyHash:  !skipHash,
		AllowResume: !cfg.NoResume,
		Callback:    bars.callback,
	}
	report := asvo.DownloadMany(cfg, targets, opts, concurrency)
	bars.shutdown()
	return report.Err()
}
