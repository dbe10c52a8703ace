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

package catalog

import (
	"time"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// BuiltinTable returns the default strategy catalog. Durations and
// success probabilities are operating estimates, not measurements; a YAML
// catalog can replace the whole table when operators know better.
//
// Declaration order matters: within a type, the first listed strategy
// wins selection ties.
func BuiltinTable() Table {
	return Table{
		Strategies: []types.Strategy{
			{
				Name:               "reclaim-memory",
				Handlers:           []string{"memory-reclaimer"},
				EstimatedDuration:  time.Minute,
				SuccessProbability: 0.80,
				Fallback:           "restart-subsystem",
			},
			{
				Name:               "throttle-load",
				Handlers:           []string{"throttle-governor"},
				EstimatedDuration:  30 * time.Second,
				SuccessProbability: 0.70,
			},
			{
				Name:               "clean-scratch",
				Handlers:           []string{"storage-janitor"},
				EstimatedDuration:  2 * time.Minute,
				SuccessProbability: 0.75,
				Fallback:           "escalate-capacity",
			},
			{
				Name:               "escalate-capacity",
				Handlers:           []string{"generic-medic"},
				EstimatedDuration:  10 * time.Minute,
				SuccessProbability: 0.95,
				RequiresApproval:   true,
			},
			{
				Name:               "reconnect-endpoints",
				Handlers:           []string{"network-doctor"},
				EstimatedDuration:  time.Minute,
				SuccessProbability: 0.65,
				Fallback:           "wait-and-reprobe",
			},
			{
				Name:               "wait-and-reprobe",
				Handlers:           []string{"generic-medic"},
				EstimatedDuration:  5 * time.Minute,
				SuccessProbability: 0.90,
			},
			{
				Name:               "restart-subsystem",
				Handlers:           []string{"subsystem-supervisor"},
				EstimatedDuration:  3 * time.Minute,
				SuccessProbability: 0.85,
			},
			{
				Name:               "quarantine-threat",
				Handlers:           []string{"security-warden"},
				EstimatedDuration:  30 * time.Second,
				SuccessProbability: 0.90,
			},
			{
				Name:               "isolate-and-audit",
				Handlers:           []string{"security-warden", "generic-medic"},
				EstimatedDuration:  15 * time.Minute,
				SuccessProbability: 0.98,
				RequiresApproval:   true,
			},
			{
				Name:               "break-loop",
				Handlers:           []string{"loop-breaker"},
				EstimatedDuration:  30 * time.Second,
				SuccessProbability: 0.60,
				Fallback:           "restart-subsystem",
			},
			{
				Name:               "dedupe-state",
				Handlers:           []string{"generic-medic"},
				EstimatedDuration:  2 * time.Minute,
				SuccessProbability: 0.70,
			},
			{
				Name:               "reprompt-permission",
				Handlers:           []string{"generic-medic"},
				EstimatedDuration:  time.Minute,
				SuccessProbability: 0.50,
			},
			{
				Name:               "verify-integrity",
				Handlers:           []string{"generic-medic"},
				EstimatedDuration:  5 * time.Minute,
				SuccessProbability: 0.60,
				Fallback:           "restart-subsystem",
			},
			{
				Name:               "resume-workflow",
				Handlers:           []string{"generic-medic"},
				EstimatedDuration:  time.Minute,
				SuccessProbability: 0.75,
			},
			{
				Name:               "replay-journal",
				Handlers:           []string{"subsystem-supervisor"},
				EstimatedDuration:  4 * time.Minute,
				SuccessProbability: 0.80,
			},
		},
		Types: map[types.ProblemType][]string{
			types.ProblemPerformanceDegradation: {"throttle-load", "restart-subsystem"},
			types.ProblemMemoryPressure:         {"reclaim-memory", "restart-subsystem"},
			types.ProblemStorageExhaustion:      {"clean-scratch", "escalate-capacity"},
			types.ProblemNetworkLoss:            {"reconnect-endpoints", "wait-and-reprobe"},
			types.ProblemSubsystemFailure:       {"restart-subsystem", "wait-and-reprobe"},
			types.ProblemSecurityThreat:         {"quarantine-threat", "isolate-and-audit"},
			types.ProblemDataCorruption:         {"verify-integrity", "isolate-and-audit"},
			types.ProblemUIUnresponsive:         {"throttle-load", "restart-subsystem"},
			types.ProblemSyncFailure:            {"reconnect-endpoints", "replay-journal"},
			types.ProblemDuplicateCrisis:        {"dedupe-state"},
			types.ProblemPermissionDenied:       {"reprompt-permission"},
			types.ProblemResourceExhaustion:     {"throttle-load", "reclaim-memory"},
			types.ProblemRunawayLoop:            {"break-loop", "restart-subsystem"},
			types.ProblemCrashRecovery:          {"replay-journal", "restart-subsystem"},
			types.ProblemWorkflowBlocked:        {"resume-workflow", "wait-and-reprobe"},
		},
	}
}
