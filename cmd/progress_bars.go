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
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

type (
	transferStatus struct {
		xfer      int64
		size      int64
		completed bool
	}

	transferBar struct {
		transferStatus
		bar *mpb.Bar
	}

	// transferBars renders one progress bar per in-flight file.  The
	// download workers only touch the status map through callback; a
	// single display goroutine owns the bars and redraws on a ticker.
	transferBars struct {
		lock   sync.RWMutex
		done   chan bool
		status map[string]transferStatus
		egrp   *errgroup.Group
	}
)

func newTransferBars() *transferBars {
	return &transferBars{
		done:   make(chan bool),
		status: make(map[string]transferStatus),
	}
}

// callback satisfies asvo.TransferCallback.  Safe for concurrent use.
func (tb *transferBars) callback(name string, xfer int64, size int64, completed bool) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	tb.status[name] = transferStatus{xfer: xfer, size: size, completed: completed}
}

func (tb *transferBars) shutdown() {
	if tb.egrp != nil {
		tb.done <- true
		if err := tb.egrp.Wait(); err != nil {
			log.Debugln("Failure to shut down progress bars:", err)
		}
	}
}

func (tb *transferBars) launchDisplay(ctx context.Context) {
	ctr := mpb.NewWithContext(ctx)
	log.SetOutput(ctr)
	tb.egrp, _ = errgroup.WithContext(ctx)

	tb.egrp.Go(func() error {
		defer func() {
			log.SetOutput(os.Stdout)
			ctr.Wait()
		}()

		tickDuration := 200 * time.Millisecond
		ticker := time.NewTicker(tickDuration)
		defer ticker.Stop()
		bars := make(map[string]*transferBar)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tb.done:
				for name := range bars {
					bars[name].bar.Abort(true)
					bars[name].bar.Wait()
				}
				return nil
			case <-ticker.C:
				func() {
					tb.lock.RLock()
					defer tb.lock.RUnlock()
					for name, status := range tb.status {
						if bars[name] == nil {
							// Finished files keep a completed entry in the
							// status map; don't resurrect their bars.
							if status.completed {
								continue
							}
							bars[name] = &transferBar{
								bar: ctr.AddBar(0,
									mpb.PrependDecorators(
										decor.Name(name, decor.WCSyncSpaceR),
										decor.CountersKibiByte("% .2f / % .2f"),
									),
									mpb.AppendDecorators(
										decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 15), ""),
										decor.OnComplete(decor.Name(" ] "), ""),
										decor.OnComplete(decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 15), "Done!"),
									),
								),
							}
						}
						prev := bars[name].transferStatus
						if prev.size == 0 && status.size > 0 {
							bars[name].bar.SetTotal(status.size, false)
						}
						bars[name].bar.EwmaSetCurrent(status.xfer, tickDuration)
						bars[name].transferStatus = status
					}
					for name, bar := range bars {
						if bar.completed {
							bar.bar.SetTotal(bar.size, true)
							bar.bar.Wait()
							delete(bars, name)
						}
					}
				}()
			}
		}
	})
}
