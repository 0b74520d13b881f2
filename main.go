package main

import (
	"os"

	"ticketchat/global/config"
	"ticketchat/logger"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// cliFlags 全局 flag，覆盖配置文件和环境变量
type cliFlags struct {
	configPath  string
	dotenvPath  string
	logLevel    string
	metricsAddr string
}

func main() {
	defer logger.Sync()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:           "ticketchat",
		Short:         "Real-time chat client for tickets and workflow tests",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "ticketchat.yaml", "path to the yaml config file")
	root.PersistentFlags().StringVar(&f.dotenvPath, "env", ".env", "dotenv file loaded before the environment overlay")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address")

	root.AddCommand(connectCmd(f))
	root.AddCommand(sendCmd(f))
	root.AddCommand(configCmd(f))
	return root
}

// load 读取配置并应用 flag 覆盖。
func (f *cliFlags) load() (*config.AppConfig, error) {
	cfg, err := config.Load(f.configPath, f.dotenvPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}
