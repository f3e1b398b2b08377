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
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Backoff tuning for per-file transfer retries.  These are tuning
// choices, not correctness requirements.
var (
	retryInitialInterval = time.Second
	retryMaxElapsedTime  = 10 * time.Minute
)

// withRetries runs one file-transfer operation under exponential
// backoff.  Transient failures (network trouble) consume a backoff
// cycle; anything tagged permanent surfaces immediately.  When the
// backoff budget runs out, the last error is the file's final outcome.
func withRetries(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxElapsedTime = retryMaxElapsedTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		log.Warnf("Transfer attempt %d failed (will retry): %v", attempt, err)
		return err
	}, bo)
}
