package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/gorig"
	"github.com/roffe/gorig/pkg/bar"
	"github.com/roffe/gorig/pkg/mqttpub"
	"github.com/roffe/gorig/pkg/rigctld"
	"github.com/roffe/gorig/pkg/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:          "kenrig",
	Short:        "Kenwood CAT control with a state cache",
	Long:         `Talks to a Kenwood transceiver over its CAT port, keeps its state cached and shares it over rigctld and MQTT`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadSettings(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagRig      = "rig"
	flagConfig   = "config"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", "?", "com-port, ? = select, sim:// = simulator")
	pf.IntP(flagBaudrate, "b", gorig.DefaultBaudrate, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagRig, "r", "TS-2000", "what rig to use")
	pf.String(flagConfig, "", "config file (yaml)")
}

type settings struct {
	Port        string         `mapstructure:"port"`
	Baudrate    int            `mapstructure:"baudrate"`
	Debug       bool           `mapstructure:"debug"`
	Rig         string         `mapstructure:"rig"`
	AckTimeout  time.Duration  `mapstructure:"ack_timeout"`
	ReadTimeout time.Duration  `mapstructure:"read_timeout"`
	Rigctld     rigctldConfig  `mapstructure:"rigctld"`
	MQTT        mqttpub.Config `mapstructure:"mqtt"`
	// Watch lists the properties serve republishes to MQTT.
	Watch []string `mapstructure:"watch"`
}

type rigctldConfig struct {
	Addr string `mapstructure:"addr"`
}

var cfg settings

func loadSettings(cmd *cobra.Command) error {
	v := viper.New()
	v.SetDefault("ack_timeout", gorig.DefaultAckTimeout)
	v.SetDefault("read_timeout", gorig.DefaultReadTimeout)
	v.SetDefault("rigctld.addr", rigctld.DefaultAddr)
	v.SetDefault("mqtt.prefix", mqttpub.DefaultPrefix)
	v.SetDefault("mqtt.client_id", "kenrig")
	v.SetDefault("watch", []string{
		gorig.RxFrequency, gorig.TxFrequency, gorig.RxMode, gorig.TxMode, gorig.Split, gorig.TX,
		"power", "s_meter", "output_power",
	})

	v.SetEnvPrefix("KENRIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if file, _ := cmd.Flags().GetString(flagConfig); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func newLogger() (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openRig connects to the configured rig and waits for its cache to fill.
func openRig(ctx context.Context) (gorig.Rig, *zap.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	port := cfg.Port
	if port == "?" {
		if port, err = selectPort(); err != nil {
			return nil, nil, err
		}
	}
	rc := &gorig.Config{
		Debug:        cfg.Debug,
		Port:         port,
		PortBaudrate: cfg.Baudrate,
		AckTimeout:   cfg.AckTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		Logger:       log,
	}
	if !cfg.Debug {
		rc.OnProgress = bar.Progress("reading rig state")
	}
	rig, err := gorig.NewRig(ctx, cfg.Rig, rc)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return rig, log, nil
}

func selectPort() (string, error) {
	ports, err := transport.ListPorts()
	if err != nil {
		return "", err
	}
	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = transport.PortInfo(p)
	}
	prompt := promptui.Select{
		Label: "Select CAT port",
		Items: items,
	}
	i, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("port selection: %w", err)
	}
	return ports[i].Name, nil
}

func yesNo(label string) bool {
	prompt := promptui.Select{
		Label:    label + " [Yes/No]",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return false
	}
	return result == "Yes"
}

// closeRig terminates the rig, reporting anything but a clean shutdown.
func closeRig(rig gorig.Rig, log *zap.Logger) {
	if err := rig.Terminate(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("terminate", zap.Error(err))
	}
	log.Sync()
}
