package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tinydisk/vdisk/pkg/elog"
)

var log elog.View

var (
	flagVerbose bool
	flagDebug   bool
	flagDisk    string
)

func commandInit() {

	rootCmd.PersistentFlags().StringVar(&flagDisk, "disk", "vdisk", "path to the backing disk file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		return nil
	}

	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmdirCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(sizeCmd)
}

var rootCmd = &cobra.Command{
	Use:           "vfsctl",
	Short:         "Exercise a miniature inode/block virtual filesystem from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
}
