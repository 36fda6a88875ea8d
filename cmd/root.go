// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/qrsdetect/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "qrsdetect",
	Short: "Real-time QRS (heartbeat) detector for ECG streams",
	Long: `A streaming Pan-Tompkins QRS detector. Samples arrive over NATS, from a
sound-card line-in or from a Polar chest strap; accepted beats are logged,
published as JSON and shown live in a terminal monitor or over websocket.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().Float64P("sampling-rate", "r", 250, "detector sampling rate in Hz")
	rootCmd.PersistentFlags().IntP("window", "w", 38, "integration window in samples")
	rootCmd.PersistentFlags().StringP("mode", "m", "streaming", "detector mode: streaming or window")
	rootCmd.PersistentFlags().StringP("nats", "n", "nats://127.0.0.1:4222", "NATS server URL")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("sampling_rate", rootCmd.PersistentFlags().Lookup("sampling-rate"))
	viper.BindPFlag("window_size", rootCmd.PersistentFlags().Lookup("window"))
	viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("nats_url", rootCmd.PersistentFlags().Lookup("nats"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(processCmd, simulateCmd, serveCmd, captureCmd, bleCmd, monitorCmd)
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the validated settings and configures the standard logger.
func setup(component string) (*config.Settings, *logrus.Entry, error) {
	settings, err := config.Get()
	if err != nil {
		return nil, nil, err
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(settings.Level())
	return settings, logrus.WithField("component", component), nil
}
