// nellimg builds nellboot disk images, prints their partition tables and
// boots them on an emulated machine.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevels = map[string]logrus.Level{
		"panic": logrus.PanicLevel,
		"fatal": logrus.FatalLevel,
		"error": logrus.ErrorLevel,
		"warn":  logrus.WarnLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"trace": logrus.TraceLevel,
	}

	log = logrus.WithField("service", "nellimg")
)

var rootCmd = &cobra.Command{
	Use:           "nellimg",
	Short:         "build and inspect nellboot disk images",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, ok := logLevels[strings.ToLower(logLevel)]
		if !ok {
			return fmt.Errorf("unknown log level %q", logLevel)
		}
		logrus.SetLevel(l)
		return nil
	},
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel,
		"log_level",
		"info",
		"one of panic, fatal, error, warn, info, debug, trace")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(bootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
