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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwatelescope/giant-squid-go/asvo"
)

var waitJSON bool

var waitCmd = &cobra.Command{
	Use:   "wait <JOB_ID>...",
	Short: "Wait until the given ASVO jobs are ready",
	Long: `Poll the ASVO until every listed job is ready to download.
A job ending in error, expiring or being cancelled fails the wait.`,
	Args: cobra.MinimumNArgs(1),
	RunE: waitMain,
}

func init() {
	waitCmd.Flags().BoolVar(&waitJSON, "json", false, "Print the ready jobs as JSON once the wait finishes")
	rootCmd.AddCommand(waitCmd)
}

func waitMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ids, err := asvo.ParseJobIDs(args)
	if err != nil {
		return err
	}
	client, err := asvo.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := client.WaitForJobs(ids); err != nil {
		return err
	}

	if waitJSON {
		jobs, err := client.GetJobs()
		if err != nil {
			return err
		}
		jobs = jobs.Retain(func(j *asvo.Job) bool {
			for _, id := range ids {
				if j.ID == id {
					return true
				}
			}
			return false
		})
		out, err := jobs.JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
	}
	return nil
}
