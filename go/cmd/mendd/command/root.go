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

// Package command builds the mendd cobra command and wires the engine
// into the service runtime.
package command

import (
	"github.com/spf13/cobra"

	"github.com/mendsys/mend/go/servenv"
	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/viperutil"
)

// MenddCommand holds everything the daemon needs before Run: the config
// registry, the engine configuration, and the service runtime.
type MenddCommand struct {
	reg        *viperutil.Registry
	cfg        *config.Config
	se         *servenv.ServEnv
	grpcServer *servenv.GrpcServer
}

// GetRootCommand creates the root command for mendd.
func GetRootCommand() (*cobra.Command, *MenddCommand) {
	reg := viperutil.NewRegistry()
	mc := &MenddCommand{
		reg:        reg,
		cfg:        config.NewConfig(reg),
		se:         servenv.NewServEnv(reg),
		grpcServer: servenv.NewGrpcServer(reg),
	}

	root := &cobra.Command{
		Use:   "mendd",
		Short: "mendd detects operational problems and remediates them autonomously",
		Long: `mendd runs a closed control loop: probes sample the host and runtime for
problems, a registry admits them under dedup and capacity policy, and a pool
of dispatch workers selects a remediation strategy per problem and executes
the matching handler under a deadline. An aggregate health score and event
stream are exposed over the gRPC health service and HTTP debug endpoints.`,
		Args:    cobra.NoArgs,
		PreRunE: mc.se.CobraPreRunE,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mc.run(cmd)
		},
	}

	mc.se.RegisterFlags(root.Flags())
	mc.grpcServer.RegisterFlags(root.Flags())
	mc.cfg.RegisterFlags(root.Flags())

	root.AddCommand(newCheckCommand())
	return root, mc
}
