// Copyright 2019 The Vitess Authors.
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
//
// Modifications Copyright 2026 The Mend Authors

// Package grpccommon holds flags and dial helpers shared by gRPC clients
// and servers.
package grpccommon

import (
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// maxMessageSize is the maximum message size which the gRPC server will
// accept. Larger messages will be rejected.
var maxMessageSize = 16 * 1024 * 1024

// RegisterFlags installs grpccommon flags on the given FlagSet. Entrypoints
// should call this before parsing command-line arguments.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(&maxMessageSize, "grpc-max-message-size", maxMessageSize, "Maximum allowed RPC message size. Larger messages will be rejected by gRPC with the error 'exceeding the max size'.")
	fs.BoolVar(&grpc.EnableTracing, "grpc-enable-tracing", grpc.EnableTracing, "Enable gRPC tracing.")
}

// MaxMessageSize returns the value of the --grpc-max-message-size flag.
func MaxMessageSize() int {
	return maxMessageSize
}

// LocalClientDialOptions returns dial options for local plain-text clients,
// such as the CLI talking to a daemon on the same host. The
// WithDisableServiceConfig is a workaround for slow localhost resolution
// on macOS.
func LocalClientDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDisableServiceConfig(),
	}
}

// NewClient creates a gRPC client connection with the shared message size
// limit applied.
func NewClient(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	allOpts := append([]grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize()),
			grpc.MaxCallSendMsgSize(MaxMessageSize()),
		),
	}, opts...)
	return grpc.NewClient(target, allOpts...)
}
