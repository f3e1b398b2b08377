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
	"github.com/spf13/viper"

	"github.com/mwatelescope/giant-squid-go/config"
)

var (
	verbosity int

	rootCmd = &cobra.Command{
		Use:   "giant-squid",
		Short: "Interact with the MWA ASVO",
		Long: `giant-squid submits jobs to the MWA All-Sky Virtual
Observatory, waits for them to become ready, and downloads their
products with resume and hash verification.

An MWA ASVO API key must be supplied via the MWA_ASVO_API_KEY
environment variable; get one from your profile page on the ASVO
website.`,
		PersistentPreRun: setupLogging,
		SilenceUsage:     true,
	}
)

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase output verbosity (repeatable)")
}

func setupLogging(cmd *cobra.Command, args []string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch {
	case verbosity >= 2:
		log.SetLevel(log.TraceLevel)
	case verbosity == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// loadConfig resolves the client configuration from the environment.
// Called at the start of every command so a missing API key fails fast,
// before any arguments are acted upon.
func loadConfig() (config.Config, error) {
	v := viper.New()
	config.BindEnv(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		log.Errorln("Configuration error:", err)
		return cfg, err
	}
	return cfg, nil
}

func Execute() error {
	return rootCmd.Execute()
}
