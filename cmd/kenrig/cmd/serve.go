package cmd

import (
	"github.com/roffe/gorig/pkg/mqttpub"
	"github.com/roffe/gorig/pkg/rigctld"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	serveCmd.Flags().String("rigctld", "", "rigctld listen address (default "+rigctld.DefaultAddr+")")
	serveCmd.Flags().String("mqtt", "", "MQTT broker url, e.g. tcp://localhost:1883")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "share the rig over rigctld and MQTT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("rigctld"); addr != "" {
			cfg.Rigctld.Addr = addr
		}
		if broker, _ := cmd.Flags().GetString("mqtt"); broker != "" {
			cfg.MQTT.Broker = broker
		}

		rig, log, err := openRig(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRig(rig, log)

		srv, err := rigctld.NewServer(cfg.Rigctld.Addr, rig, log)
		if err != nil {
			return err
		}
		errg, ctx := errgroup.WithContext(cmd.Context())
		errg.Go(func() error {
			return srv.Run(ctx)
		})
		if d, ok := rig.(interface {
			Done() <-chan struct{}
			Err() error
		}); ok {
			errg.Go(func() error {
				select {
				case <-d.Done():
					srv.Close()
					return d.Err()
				case <-ctx.Done():
					return nil
				}
			})
		}

		if cfg.MQTT.Broker != "" {
			pub, err := mqttpub.Connect(ctx, cfg.MQTT, rig, log)
			if err != nil {
				srv.Close()
				return err
			}
			defer pub.Close()
			if err := pub.Watch(ctx, cfg.Watch...); err != nil {
				srv.Close()
				return err
			}
		}
		log.Info("serving", zap.Stringer("rigctld", srv.Addr()), zap.String("mqtt", cfg.MQTT.Broker))
		return errg.Wait()
	},
}
