// Package ifctl brings network interfaces down and up again.
package ifctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// upTimeout bounds the up step when the caller's context is already done.
const upTimeout = 30 * time.Second

// Controller restarts interfaces with ifupdown or iproute2.
type Controller struct {
	method string
	settle time.Duration
	run    utils.Runner
	sleep  func(context.Context, time.Duration) error
	logger *logx.Logger
}

func New(cfg config.Restart, run utils.Runner, logger *logx.Logger) *Controller {
	if run == nil {
		run = utils.ExecRunner
	}
	method := cfg.Method
	if method == "" {
		method = config.DefaultRestartMethod
	}
	return &Controller{
		method: method,
		settle: cfg.Settle,
		run:    run,
		sleep:  utils.Sleep,
		logger: logger,
	}
}

// Restart takes iface down, waits, brings it up and waits again. The up step
// runs even when down failed. Both failures are returned joined.
func (c *Controller) Restart(ctx context.Context, iface string) error {
	c.logger.Info("Restarting interface", "iface", iface, "method", c.method)

	var downErr error
	down := c.downCmd(iface)
	if _, err := c.run(ctx, down[0], down[1:]...); err != nil {
		downErr = fmt.Errorf("bring %s down: %w", iface, err)
		c.logger.Warn("Interface down failed", "iface", iface, "error", err)
	} else {
		_ = c.sleep(ctx, c.settle)
	}

	// up must run even when ctx is done or down failed, or the interface is
	// left down until the next cycle
	upCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		upCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), upTimeout)
		defer cancel()
	}
	var upErr error
	up := c.upCmd(iface)
	if _, err := c.run(upCtx, up[0], up[1:]...); err != nil {
		upErr = fmt.Errorf("bring %s up: %w", iface, err)
		c.logger.Warn("Interface up failed", "iface", iface, "error", err)
	} else if err := c.sleep(ctx, c.settle); err != nil {
		return errors.Join(downErr, err)
	}

	return errors.Join(downErr, upErr)
}

func (c *Controller) downCmd(iface string) []string {
	if c.method == config.RestartIP {
		return []string{"ip", "link", "set", "dev", iface, "down"}
	}
	return []string{"ifdown", iface, "--force"}
}

func (c *Controller) upCmd(iface string) []string {
	if c.method == config.RestartIP {
		return []string{"ip", "link", "set", "dev", iface, "up"}
	}
	return []string{"ifup", iface}
}
