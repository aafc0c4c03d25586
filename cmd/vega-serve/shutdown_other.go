// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func (c *closer) listenSignal(ctx context.Context, srv Shutdowner, timeout time.Duration) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	signal := <-quit
	logrus.Infof("vega-serve receive signal: %v, exiting ...", signal)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	newCtx, cancelCtx := context.WithTimeout(ctx, timeout)
	defer cancelCtx()
	_ = srv.Shutdown(newCtx)
	c.ch <- true
}
