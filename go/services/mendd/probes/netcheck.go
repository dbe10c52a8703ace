// Copyright 2026 The Mend Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probes

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// NetcheckProbe verifies TCP reachability of the configured endpoints.
type NetcheckProbe struct {
	endpoints   func() []string
	dialTimeout func() time.Duration
	dial        func(ctx context.Context, address string) (net.Conn, error)
}

// NewNetcheckProbe creates the connectivity probe. A nil dial uses
// net.Dialer over TCP.
func NewNetcheckProbe(endpoints func() []string, dialTimeout func() time.Duration, dial func(ctx context.Context, address string) (net.Conn, error)) *NetcheckProbe {
	p := &NetcheckProbe{
		endpoints:   endpoints,
		dialTimeout: dialTimeout,
		dial:        dial,
	}
	if p.dial == nil {
		var d net.Dialer
		p.dial = func(ctx context.Context, address string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", address)
		}
	}
	return p
}

func (p *NetcheckProbe) Name() string { return "netcheck" }

func (p *NetcheckProbe) Sample(ctx context.Context) ([]types.Candidate, error) {
	endpoints := p.endpoints()
	if len(endpoints) == 0 {
		return nil, nil
	}
	timeout := p.dialTimeout()

	var failed []string
	for _, addr := range endpoints {
		if err := p.check(ctx, addr, timeout); err != nil {
			failed = append(failed, addr)
		}
	}
	if len(failed) == 0 {
		return nil, nil
	}

	sev := types.SeverityMedium
	if len(failed) == len(endpoints) {
		sev = types.SeverityHigh
	}
	return []types.Candidate{{
		Type:        types.ProblemNetworkLoss,
		Severity:    sev,
		Description: fmt.Sprintf("%d of %d endpoints unreachable", len(failed), len(endpoints)),
		Source:      p.Name(),
		Attributes: map[string]string{
			types.AttrFailedEndpoints: strings.Join(failed, ","),
		},
		Metrics: map[string]float64{
			"endpoints_total":  float64(len(endpoints)),
			"endpoints_failed": float64(len(failed)),
		},
	}}, nil
}

func (p *NetcheckProbe) check(ctx context.Context, address string, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := p.dial(dialCtx, address)
	if err != nil {
		return err
	}
	return conn.Close()
}
