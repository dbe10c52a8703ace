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

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// DialFunc opens a connection to a host:port address. Tests substitute
// this to avoid touching the network.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// networkDoctor re-dials endpoints that a connectivity probe reported
// unreachable. It succeeds only when every endpoint answers.
type networkDoctor struct {
	logger      *slog.Logger
	dial        DialFunc
	endpoints   func() []string
	dialTimeout func() time.Duration
}

// NewNetworkDoctor creates the connectivity handler. endpoints supplies
// the configured fallback list used when the problem itself names no
// failed endpoints. A nil dial uses net.Dialer over TCP.
func NewNetworkDoctor(logger *slog.Logger, dial DialFunc, endpoints func() []string, dialTimeout func() time.Duration) RemediationHandler {
	h := &networkDoctor{
		logger:      logger,
		dial:        dial,
		endpoints:   endpoints,
		dialTimeout: dialTimeout,
	}
	if h.dial == nil {
		var d net.Dialer
		h.dial = func(ctx context.Context, address string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", address)
		}
	}
	return h
}

func (h *networkDoctor) Name() string { return NetworkDoctor }

func (h *networkDoctor) Metadata() Metadata {
	return Metadata{Description: "re-dial unreachable endpoints and verify connectivity is restored"}
}

func (h *networkDoctor) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	targets := h.targets(problem)
	if len(targets) == 0 {
		return fmt.Errorf("no endpoints to check")
	}

	var unreachable []string
	for _, addr := range targets {
		if err := h.check(ctx, addr); err != nil {
			h.logger.WarnContext(ctx, "endpoint still unreachable", "problem", problem.ID, "endpoint", addr, "error", err)
			unreachable = append(unreachable, addr)
		}
	}
	if len(unreachable) > 0 {
		return fmt.Errorf("%d of %d endpoints unreachable: %s", len(unreachable), len(targets), strings.Join(unreachable, ","))
	}
	h.logger.InfoContext(ctx, "connectivity restored", "problem", problem.ID, "endpoints", targets)
	return nil
}

// targets prefers the endpoints the probe flagged on the problem; the
// configured list is the fallback for problems reported out of band.
func (h *networkDoctor) targets(problem *types.Problem) []string {
	if raw, ok := problem.Attributes[types.AttrFailedEndpoints]; ok && raw != "" {
		var targets []string
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				targets = append(targets, addr)
			}
		}
		if len(targets) > 0 {
			return targets
		}
	}
	return h.endpoints()
}

func (h *networkDoctor) check(ctx context.Context, address string) error {
	dialCtx, cancel := context.WithTimeout(ctx, h.dialTimeout())
	defer cancel()
	conn, err := h.dial(dialCtx, address)
	if err != nil {
		return err
	}
	return conn.Close()
}
