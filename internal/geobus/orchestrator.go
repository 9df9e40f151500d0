// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"fmt"
	"sync"
)

// Orchestrator feeds the results of several providers for one marker key into a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track runs every provider until ctx is done. A provider whose stream ends, or that panics,
// is restarted with an exponential backoff.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.run(ctx, p, key)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for ctx.Err() == nil {
		published, err := o.drain(ctx, p, key)
		if ctx.Err() != nil {
			return
		}
		if published {
			backoff = initialBackoff
		}
		o.Bus.logger.Debug("restarting geolocation provider", "provider", p.Name(), "key", key,
			"backoff", backoff, "error", err)
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// drain publishes the results of one provider stream until it ends. It reports whether
// anything was published.
func (o *Orchestrator) drain(ctx context.Context, p Provider, key string) (published bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()
	stream := p.LookupStream(ctx, key)
	if stream == nil {
		return false, fmt.Errorf("provider %s returned no stream", p.Name())
	}
	for r := range stream {
		o.Bus.Publish(r)
		published = true
	}
	return published, nil
}
