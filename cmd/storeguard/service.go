package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/storeguard/pkg/app"
)

// program adapts app.Run to the service manager's Start/Stop callbacks.
type program struct {
	params app.RunParams
	cancel context.CancelFunc
	done   chan error
	logger service.Logger
}

func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := app.Run(ctx, p.params)
		if err != nil && p.logger != nil {
			_ = p.logger.Error(err)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceConfig(params app.RunParams) (*service.Config, error) {
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		args = append(args, "--config", abs)
	}
	if params.EnvFile != "" {
		abs, err := filepath.Abs(params.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("resolving env file: %w", err)
		}
		args = append(args, "--env-file", abs)
	}
	if params.DataDir != "" {
		args = append(args, "--data-dir", params.DataDir)
	}
	return &service.Config{
		Name:        "storeguard",
		DisplayName: "StoreGuard",
		Description: "Abuse-mitigation gateway for the storefront chat assistant",
		Arguments:   args,
	}, nil
}

func newService(cmd *cobra.Command) (service.Service, *program, error) {
	params := runParams(cmd)
	cfg, err := serviceConfig(params)
	if err != nil {
		return nil, nil, err
	}
	prg := &program{params: params}
	svc, err := service.New(prg, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating service: %w", err)
	}
	return svc, prg, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage storeguard as a system service",
	}

	run := &cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, prg, err := newService(cmd)
			if err != nil {
				return err
			}
			if prg.logger, err = svc.Logger(nil); err != nil {
				return fmt.Errorf("opening service logger: %w", err)
			}
			return svc.Run()
		},
	}
	addRunFlags(run)
	cmd.AddCommand(run)

	for _, action := range service.ControlAction {
		c := &cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the storeguard service", action),
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, _, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					if errors.Is(err, service.ErrNoServiceSystemDetected) {
						return fmt.Errorf("%s: no service manager available on this system", action)
					}
					return fmt.Errorf("%s service: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		}
		addRunFlags(c)
		cmd.AddCommand(c)
	}
	return cmd
}
