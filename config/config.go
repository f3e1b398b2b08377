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

// Package config builds the single configuration value consumed by the
// ASVO client.  All knobs are resolved exactly once, at startup; nothing
// in the asvo package reads the environment or any other ambient state.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// Production ASVO endpoint.
	DefaultHost = "https://asvo.mwatelescope.org:8778"

	// The server gates its API on a client-version string.  We present
	// ourselves as the reference client unless told otherwise.
	DefaultClientVersion = "mantaray-clientv1.0"

	// Default in-memory buffer for file writes, in MiB.
	DefaultBufSizeMiB = 100
)

// Config carries everything the asvo.Client needs to talk to the server.
type Config struct {
	// APIKey is the user's ASVO API key.  Required.
	APIKey string

	// Host is the base URL of the ASVO service.
	Host string

	// ClientVersion is the value presented as the basic-auth username
	// during login.
	ClientVersion string

	// BufSize is the write-buffer size for downloads, in bytes.
	BufSize int

	// Delivery is the default delivery location for submitted jobs
	// ("acacia" or "scratch").
	Delivery string

	// DeliveryFormat optionally requests a delivery format ("tar").
	DeliveryFormat string

	// NoResume disables ranged-download resumption.
	NoResume bool
}

// ErrMissingAPIKey indicates that no ASVO API key was configured.
var ErrMissingAPIKey = errors.New("MWA_ASVO_API_KEY is not defined")

// FromViper resolves the configuration from the given viper instance,
// which the CLI layer has already pointed at the environment (and,
// optionally, a config file).
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		APIKey:         v.GetString("api_key"),
		Host:           v.GetString("host"),
		ClientVersion:  v.GetString("client_version"),
		BufSize:        v.GetInt("buf_size") * 1024 * 1024,
		Delivery:       v.GetString("delivery"),
		DeliveryFormat: v.GetString("delivery_format"),
		NoResume:       v.GetBool("no_resume"),
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	if cfg.BufSize <= 0 {
		cfg.BufSize = DefaultBufSizeMiB * 1024 * 1024
	}
	return cfg, cfg.Validate()
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Host == "" {
		return errors.New("ASVO host must not be empty")
	}
	return nil
}

// BindEnv registers the environment variables the client honors on the
// given viper instance.
func BindEnv(v *viper.Viper) {
	// BindEnv only errors when invoked with no variable name.
	_ = v.BindEnv("api_key", "MWA_ASVO_API_KEY")
	_ = v.BindEnv("host", "MWA_ASVO_HOST")
	_ = v.BindEnv("client_version", "MWA_ASVO_VERSION")
	_ = v.BindEnv("buf_size", "GIANT_SQUID_BUF_SIZE")
	_ = v.BindEnv("delivery", "GIANT_SQUID_DELIVERY")
	_ = v.BindEnv("delivery_format", "GIANT_SQUID_DELIVERY_FORMAT")
	_ = v.BindEnv("no_resume", "GIANT_SQUID_NO_RESUME")
	v.SetDefault("buf_size", DefaultBufSizeMiB)
	v.SetDefault("delivery", "acacia")
}
