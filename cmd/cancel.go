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
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mwatelescope/giant-squid-go/asvo"
)

var cancelDryRun bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <JOB_ID>...",
	Short: "Cancel queued ASVO jobs",
	Long: `Ask the ASVO to cancel the given jobs.  Jobs that no longer
exist, or that have progressed too far to stop, are reported and
skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: cancelMain,
}

func init() {
	cancelCmd.Flags().BoolVarP(&cancelDryRun, "dry-run", "n", false, "Report what would be cancelled without cancelling")
	rootCmd.AddCommand(cancelCmd)
}

func cancelMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ids, err := asvo.ParseJobIDs(args)
	if err != nil {
		return err
	}
	if cancelDryRun {
		for _, id := range ids {
			log.Infof("Would cancel ASVO job %d", id)
		}
		return nil
	}
	client, err := asvo.NewClient(cfg)
	if err != nil {
		return err
	}
	for _, id := range ids {
		cancelled, err := client.CancelJob(id)
		if err != nil {
			return err
		}
		if cancelled != nil {
			log.Infof("Cancelled ASVO job %d", *cancelled)
		}
	}
	return nil
}
