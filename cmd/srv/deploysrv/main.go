package main

import (
	"fmt"
	"os"

	"github.com/flow-tools/axf-deploy/pkg/deployment"
	"github.com/flow-tools/axf-deploy/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile  string `long:"config" description:"path to the deployment configuration file"`
	RunDuration int    `long:"run-duration" description:"run duration in seconds, 0 means run until signalled"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
	LogLevel    string `long:"log-level" description:"log level: debug, info, warn, error" default:"info"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	if opts.ConfigFile == "" {
		fmt.Println("Configuration file is required")
		os.Exit(1)
	}

	if opts.Validate {
		if err := deployment.ValidateConfigFile(opts.ConfigFile); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = opts.LogLevel
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v", err)
		os.Exit(1)
	}

	zapLogger.Infof("opts: %+v", opts)

	deployLogger := logging.NewLogger(
		logPrefix("axf-deploy"), logging.LogFuncs{
			Debugf: zapLogger.Debugf,
			Infof:  zapLogger.Infof,
			Warnf:  zapLogger.Warnf,
			Errorf: zapLogger.Errorf,
		})

	err = deployment.Run(opts.RunDuration, opts.ConfigFile, deployLogger)
	if err != nil {
		zapLogger.Errorf("Deployment runner failed: %v", err)
		os.Exit(1)
	}
}
