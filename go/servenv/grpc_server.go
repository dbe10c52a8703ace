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

package servenv

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"time"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/mendsys/mend/go/tools/grpccommon"
	"github.com/mendsys/mend/go/viperutil"
)

// GrpcServer holds the gRPC server configuration and the server instance.
// Services register themselves from an OnRun hook, which runs after Create
// and before Serve.
type GrpcServer struct {
	// port is the port to listen on for gRPC. If zero, don't listen.
	port viperutil.Value[int]

	// bindAddress is the address to bind to for gRPC. If empty, bind to
	// all addresses.
	bindAddress viperutil.Value[string]

	// maxConnectionAge is the maximum age of a client connection, before
	// GoAway is sent.
	maxConnectionAge viperutil.Value[time.Duration]

	// maxConnectionAgeGrace is an additional grace period after
	// maxConnectionAge.
	maxConnectionAgeGrace viperutil.Value[time.Duration]

	keepAliveEnforcementPolicyMinTime             viperutil.Value[time.Duration]
	keepAliveEnforcementPolicyPermitWithoutStream viperutil.Value[bool]
	keepaliveTime                                 viperutil.Value[time.Duration]
	keepaliveTimeout                              viperutil.Value[time.Duration]

	// Server is the actual gRPC server instance, set by Create.
	Server *grpc.Server

	// healthServer answers grpc_health_v1 checks; SetServing flips it.
	healthServer *health.Server

	unaryInterceptors  []grpc.UnaryServerInterceptor
	streamInterceptors []grpc.StreamServerInterceptor
}

// NewGrpcServer creates and initializes a new GrpcServer with viperutil values.
func NewGrpcServer(reg *viperutil.Registry) *GrpcServer {
	return &GrpcServer{
		port: viperutil.Configure(reg, "grpc-port", viperutil.Options[int]{
			Default:  0,
			FlagName: "grpc-port",
		}),
		bindAddress: viperutil.Configure(reg, "grpc-bind-address", viperutil.Options[string]{
			Default:  "",
			FlagName: "grpc-bind-address",
		}),
		maxConnectionAge: viperutil.Configure(reg, "grpc-max-connection-age", viperutil.Options[time.Duration]{
			Default:  time.Duration(math.MaxInt64),
			FlagName: "grpc-max-connection-age",
		}),
		maxConnectionAgeGrace: viperutil.Configure(reg, "grpc-max-connection-age-grace", viperutil.Options[time.Duration]{
			Default:  time.Duration(math.MaxInt64),
			FlagName: "grpc-max-connection-age-grace",
		}),
		keepAliveEnforcementPolicyMinTime: viperutil.Configure(reg, "grpc-server-keepalive-enforcement-policy-min-time", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "grpc-server-keepalive-enforcement-policy-min-time",
		}),
		keepAliveEnforcementPolicyPermitWithoutStream: viperutil.Configure(reg, "grpc-server-keepalive-enforcement-policy-permit-without-stream", viperutil.Options[bool]{
			Default:  false,
			FlagName: "grpc-server-keepalive-enforcement-policy-permit-without-stream",
		}),
		keepaliveTime: viperutil.Configure(reg, "grpc-server-keepalive-time", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "grpc-server-keepalive-time",
		}),
		keepaliveTimeout: viperutil.Configure(reg, "grpc-server-keepalive-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "grpc-server-keepalive-timeout",
		}),
	}
}

// RegisterFlags registers all gRPC server flags with the given FlagSet.
func (g *GrpcServer) RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("grpc-port", g.port.Default(), "Port to listen on for gRPC calls. If zero, do not listen.")
	fs.String("grpc-bind-address", g.bindAddress.Default(), "Bind address for gRPC calls. If empty, listen on all addresses.")
	fs.Duration("grpc-max-connection-age", g.maxConnectionAge.Default(), "Maximum age of a client connection before GoAway is sent.")
	fs.Duration("grpc-max-connection-age-grace", g.maxConnectionAgeGrace.Default(), "Additional grace period after grpc-max-connection-age, after which connections are forcibly closed.")
	fs.Duration("grpc-server-keepalive-enforcement-policy-min-time", g.keepAliveEnforcementPolicyMinTime.Default(), "gRPC server minimum keepalive time")
	fs.Bool("grpc-server-keepalive-enforcement-policy-permit-without-stream", g.keepAliveEnforcementPolicyPermitWithoutStream.Default(), "gRPC server permit client keepalive pings even when there are no active streams (RPCs)")
	fs.Duration("grpc-server-keepalive-time", g.keepaliveTime.Default(), "After a duration of this time, if the server doesn't see any activity, it pings the client to see if the transport is still alive.")
	fs.Duration("grpc-server-keepalive-timeout", g.keepaliveTimeout.Default(), "After having pinged for keepalive check, the server waits for a duration of Timeout and if no activity is seen even after that the connection is closed.")

	grpccommon.RegisterFlags(fs)

	viperutil.BindFlags(fs,
		g.port,
		g.bindAddress,
		g.maxConnectionAge,
		g.maxConnectionAgeGrace,
		g.keepAliveEnforcementPolicyMinTime,
		g.keepAliveEnforcementPolicyPermitWithoutStream,
		g.keepaliveTime,
		g.keepaliveTimeout,
	)
}

// Port returns the gRPC port.
func (g *GrpcServer) Port() int {
	return g.port.Get()
}

// BindAddress returns the bind address.
func (g *GrpcServer) BindAddress() string {
	return g.bindAddress.Get()
}

// IsEnabled returns true if the gRPC server should listen.
func (g *GrpcServer) IsEnabled() bool {
	return g.port.Get() != 0
}

// AddInterceptors appends server interceptors; call before Create.
func (g *GrpcServer) AddInterceptors(u grpc.UnaryServerInterceptor, s grpc.StreamServerInterceptor) {
	if u != nil {
		g.unaryInterceptors = append(g.unaryInterceptors, u)
	}
	if s != nil {
		g.streamInterceptors = append(g.streamInterceptors, s)
	}
}

// Create creates the gRPC server instance. It has to be called after flags
// are parsed, but before services register themselves.
func (g *GrpcServer) Create() error {
	if !g.IsEnabled() {
		slog.Info("gRPC is not enabled (no grpc-port set), skipping gRPC server creation")
		return nil
	}

	msgSize := grpccommon.MaxMessageSize()
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(msgSize),
		grpc.MaxSendMsgSize(msgSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             g.keepAliveEnforcementPolicyMinTime.Get(),
			PermitWithoutStream: g.keepAliveEnforcementPolicyPermitWithoutStream.Get(),
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge:      g.maxConnectionAge.Get(),
			MaxConnectionAgeGrace: g.maxConnectionAgeGrace.Get(),
			Time:                  g.keepaliveTime.Get(),
			Timeout:               g.keepaliveTimeout.Get(),
		}),
	}

	unary := append([]grpc.UnaryServerInterceptor{loggingUnaryInterceptor}, g.unaryInterceptors...)
	stream := append([]grpc.StreamServerInterceptor{loggingStreamInterceptor}, g.streamInterceptors...)
	opts = append(opts,
		grpc.UnaryInterceptor(grpcmiddleware.ChainUnaryServer(unary...)),
		grpc.StreamInterceptor(grpcmiddleware.ChainStreamServer(stream...)),
	)

	g.Server = grpc.NewServer(opts...)
	return nil
}

// Serve starts the gRPC server and begins listening for requests. All
// services must have registered themselves before this is called; run.go
// fires the OnRun hooks between Create and Serve for that reason.
func (g *GrpcServer) Serve(se *ServEnv) error {
	if !g.IsEnabled() {
		return nil
	}

	// reflection supports list calls
	reflection.Register(g.Server)

	g.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(g.Server, g.healthServer)
	for service := range g.Server.GetServiceInfo() {
		g.healthServer.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	}

	slog.Info("listening for gRPC calls", "grpcPort", g.port.Get())
	listener, err := net.Listen("tcp", net.JoinHostPort(g.bindAddress.Get(), strconv.Itoa(g.port.Get())))
	if err != nil {
		return fmt.Errorf("cannot listen on grpc port %d: %w", g.port.Get(), err)
	}

	go func() {
		if err := g.Server.Serve(listener); err != nil {
			slog.Error("grpc serve returned unexpected error", "err", err)
		}
	}()

	se.OnTermSync(func() {
		slog.Info("initiated graceful stop of gRPC server")
		g.Server.GracefulStop()
		slog.Info("gRPC server stopped")
	})
	return nil
}

// SetServing flips the overall grpc_health_v1 status for the empty service
// name, which generic health checkers consult.
func (g *GrpcServer) SetServing(serving bool) {
	if g.healthServer == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.healthServer.SetServingStatus("", status)
}

func loggingUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "rpc failed", "method", info.FullMethod, "duration", time.Since(start), "err", err)
	} else {
		slog.DebugContext(ctx, "rpc handled", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

func loggingStreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	if err != nil {
		slog.Warn("stream rpc failed", "method", info.FullMethod, "duration", time.Since(start), "err", err)
	} else {
		slog.Debug("stream rpc handled", "method", info.FullMethod, "duration", time.Since(start))
	}
	return err
}
