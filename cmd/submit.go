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
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mwatelescope/giant-squid-go/asvo"
)

var (
	submitDelivery       string
	submitDeliveryFormat string
	allowResubmit        bool
	submitWait           bool
	submitDryRun         bool
	submitExpiryDays     int
	voltOffset           int
	voltDuration         int
	convParams           []string

	submitVisCmd = &cobra.Command{
		Use:   "submit-vis <OBSID>...",
		Short: "Submit ASVO jobs to download raw visibilities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJobs(args, func(c *asvo.Client, obsid asvo.Obsid, opts asvo.SubmitOptions) (asvo.SubmitOutcome, error) {
				return c.SubmitVisibilities(obsid, opts)
			})
		},
	}

	submitMetaCmd = &cobra.Command{
		Use:   "submit-meta <OBSID>...",
		Short: "Submit ASVO jobs to download observation metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJobs(args, func(c *asvo.Client, obsid asvo.Obsid, opts asvo.SubmitOptions) (asvo.SubmitOutcome, error) {
				return c.SubmitMetadata(obsid, opts)
			})
		},
	}

	submitVoltCmd = &cobra.Command{
		Use:   "submit-volt <OBSID>...",
		Short: "Submit ASVO jobs to download voltages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJobs(args, func(c *asvo.Client, obsid asvo.Obsid, opts asvo.SubmitOptions) (asvo.SubmitOutcome, error) {
				return c.SubmitVoltage(obsid, voltOffset, voltDuration, opts)
			})
		},
	}

	submitConvCmd = &cobra.Command{
		Use:   "submit-conv <OBSID>...",
		Short: "Submit ASVO conversion jobs",
		Long: `Submit ASVO jobs to convert raw visibilities.  Sensible
conversion defaults are applied; individual settings are overridden with
repeated -p key=value flags (e.g. -p timeres=2 -p conversion=uvfits).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseKeyValues(convParams)
			if err != nil {
				return err
			}
			return submitJobs(args, func(c *asvo.Client, obsid asvo.Obsid, opts asvo.SubmitOptions) (asvo.SubmitOutcome, error) {
				return c.SubmitConversion(obsid, params, opts)
			})
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{submitVisCmd, submitMetaCmd, submitVoltCmd, submitConvCmd} {
		cmd.Flags().StringVar(&submitDelivery, "delivery", "", "Delivery location (acacia or scratch); defaults to GIANT_SQUID_DELIVERY")
		cmd.Flags().StringVar(&submitDeliveryFormat, "delivery-format", "", "Delivery format (e.g. tar)")
		cmd.Flags().BoolVar(&allowResubmit, "allow-resubmit", false, "Queue the job even if an identical one is already queued")
		cmd.Flags().IntVar(&submitExpiryDays, "expiry-days", 0, "Days to keep the job products (0 uses the server default)")
		cmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait for the submitted jobs to become ready")
		cmd.Flags().BoolVarP(&submitDryRun, "dry-run", "n", false, "Report what would be submitted without submitting")
		rootCmd.AddCommand(cmd)
	}
	submitVoltCmd.Flags().IntVar(&voltOffset, "offset", 0, "Offset in seconds from the start of the observation")
	submitVoltCmd.Flags().IntVar(&voltDuration, "duration", 0, "Duration in seconds of voltages to download")
	cobra.CheckErr(submitVoltCmd.MarkFlagRequired("duration"))
	submitConvCmd.Flags().StringSliceVarP(&convParams, "parameters", "p", nil, "Conversion parameter override, key=value (repeatable)")
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, errors.Errorf("parameter %q is not of the form key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// submitJobs runs one submission per obsid, reporting each outcome, and
// optionally waits for the whole batch.  A fatal server rejection stops
// the batch; recoverable rejections (obsid unknown to the archive, or
// no files) skip that obsid and continue.
func submitJobs(args []string, submit func(*asvo.Client, asvo.Obsid, asvo.SubmitOptions) (asvo.SubmitOutcome, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obsids, err := asvo.ParseObsids(args)
	if err != nil {
		return err
	}
	opts := asvo.SubmitOptions{
		Delivery:       submitDelivery,
		DeliveryFormat: submitDeliveryFormat,
		AllowResubmit:  allowResubmit,
		ExpiryDays:     submitExpiryDays,
	}
	if opts.Delivery == "" {
		opts.Delivery = cfg.Delivery
	}
	if opts.DeliveryFormat == "" {
		opts.DeliveryFormat = cfg.DeliveryFormat
	}

	if submitDryRun {
		for _, obsid := range obsids {
			log.Infof("Would submit an ASVO job for obsid %s (delivery: %s)", obsid, opts.Delivery)
		}
		return nil
	}

	client, err := asvo.NewClient(cfg)
	if err != nil {
		return err
	}
	var ids []asvo.JobID
	for _, obsid := range obsids {
		outcome, err := submit(client, obsid, opts)
		if err != nil {
			return err
		}
		switch outcome.Kind {
		case asvo.SubmitNew:
			log.Infof("Submitted ASVO job %d for obsid %s", outcome.JobID, obsid)
			ids = append(ids, outcome.JobID)
		case asvo.SubmitDuplicate:
			log.Warnf("Obsid %s is already queued as ASVO job %d", obsid, outcome.JobID)
			ids = append(ids, outcome.JobID)
		case asvo.SubmitRecoverable:
			log.Warnf("Skipping obsid %s: %s", obsid, outcome.Message)
		}
	}

	if submitWait && len(ids) > 0 {
		return client.WaitForJobs(ids)
	}
	return nil
}
