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
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mwatelescope/giant-squid-go/asvo"
)

var (
	listJSON   bool
	listStates []string
	listTypes  []string

	listCmd = &cobra.Command{
		Use:   "list [JOB_ID_OR_OBSID]...",
		Short: "List your ASVO jobs",
		Long: `List your current ASVO jobs and their states.  With no
arguments every job is shown; job IDs and obsids given as arguments (or
in files named as arguments) restrict the listing to matching jobs.`,
		RunE: listMain,
	}
)

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print the listing as JSON instead of a table")
	listCmd.Flags().StringSliceVar(&listStates, "states", nil, "Only show jobs in these states (e.g. queued,ready)")
	listCmd.Flags().StringSliceVar(&listTypes, "types", nil, "Only show jobs of these types (e.g. download_visibilities)")
	rootCmd.AddCommand(listCmd)
}

func listMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobIDs, obsids, err := asvo.ParseJobIDsOrObsids(args)
	if err != nil {
		return err
	}

	stateFilter := make(map[asvo.JobState]bool, len(listStates))
	for _, s := range listStates {
		state, err := asvo.ParseJobState(s)
		if err != nil {
			return err
		}
		stateFilter[state] = true
	}
	typeFilter := make(map[asvo.JobType]bool, len(listTypes))
	for _, t := range listTypes {
		jt, err := asvo.ParseJobType(t)
		if err != nil {
			return err
		}
		typeFilter[jt] = true
	}

	client, err := asvo.NewClient(cfg)
	if err != nil {
		return err
	}
	jobs, err := client.GetJobs()
	if err != nil {
		return err
	}

	jobs = jobs.Retain(func(j *asvo.Job) bool {
		if len(stateFilter) > 0 && !stateFilter[j.State] {
			return false
		}
		if len(typeFilter) > 0 && !typeFilter[j.Type] {
			return false
		}
		if len(jobIDs) == 0 && len(obsids) == 0 {
			return true
		}
		for _, id := range jobIDs {
			if j.ID == id {
				return true
			}
		}
		for _, obsid := range obsids {
			if j.Obsid == obsid {
				return true
			}
		}
		return false
	})

	if listJSON {
		out, err := jobs.JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Job ID", "Obsid", "Type", "State", "Size"})
	for _, j := range jobs {
		size := ""
		if total := j.TotalSize(); total > 0 {
			size = humanize.IBytes(uint64(total))
		}
		table.Append([]string{
			strconv.FormatUint(uint64(j.ID), 10),
			j.Obsid.String(),
			j.Type.String(),
			j.StateString(),
			size,
		})
	}
	table.Render()
	return nil
}
