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
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// RunDefault calls Run with the parameters from the flags.
func (se *ServEnv) RunDefault(grpcServer *GrpcServer) error {
	return se.Run(se.bindAddress.Get(), se.httpPort.Get(), grpcServer)
}

// Run starts listening for RPC and HTTP requests, and blocks until the
// process gets a termination signal.
func (se *ServEnv) Run(bindAddress string, port int, grpcServer *GrpcServer) error {
	if err := grpcServer.Create(); err != nil {
		return fmt.Errorf("grpc server create: %w", err)
	}
	if err := se.FireRunHooks(); err != nil {
		return fmt.Errorf("run hooks: %w", err)
	}
	if err := grpcServer.Serve(se); err != nil {
		return fmt.Errorf("grpc server serve: %w", err)
	}

	var httpListener net.Listener
	if port != 0 {
		l, err := net.Listen("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
		if err != nil {
			return fmt.Errorf("failed to listen on HTTP port %d: %w", port, err)
		}
		httpListener = l
		go func() {
			if err := se.HTTPServe(l); err != nil {
				slog.Error("http serve returned unexpected error", "err", err)
			}
		}()
	}

	se.notifySignals()
	slog.Info("service successfully started", "httpPort", port, "grpcPort", grpcServer.Port())
	<-se.exitChan

	startTime := time.Now()
	slog.Info("entering lameduck mode", "period", se.lameduckPeriod.Get())
	slog.Info("firing asynchronous OnTerm hooks")
	go se.onTermHooks.Fire()

	se.fireOnTermSyncHooks(se.onTermTimeout.Get())
	if remain := se.lameduckPeriod.Get() - time.Since(startTime); remain > 0 {
		slog.Info(fmt.Sprintf("sleeping an extra %v after OnTermSync to finish lameduck period", remain))
		time.Sleep(remain)
	}
	if httpListener != nil {
		_ = httpListener.Close()
	}

	slog.Info("shutting down gracefully")
	se.fireOnCloseHooks(se.onCloseTimeout.Get())
	return nil
}
