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

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mendsys/mend/go/tools/grpccommon"
)

// newCheckCommand probes a running mendd over its gRPC health service.
// Exit status is non-zero unless the daemon reports SERVING.
func newCheckCommand() *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the health of a running mendd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpccommon.NewClient(server, grpccommon.LocalClientDialOptions()...)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", server, err)
			}
			defer func() { _ = conn.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return fmt.Errorf("health check against %s failed: %w", server, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("mendd at %s is %s", server, resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "localhost:15200", "address of the mendd gRPC server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "deadline for the health check")
	return cmd
}
