package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program; it loads the user config,
// installs signal handling and runs the transfer server until it is
// interrupted or crashes.
func main() {
	configPath := flag.String("config", "transfer.yaml", "path to the YAML configuration file")
	logLevel := flag.Int("log-level", logger.INFO.Level(), "minimum log level to emit (0 is most verbose)")
	flag.Parse()

	logger.SetMinLoggingLevel(*logLevel)

	config := internal.TransferConfig{}
	if err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-exitChannel
		log.Emit(logger.STOP, "Interrupt detected, shutting down...\n")
		cancel()
	}()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Transfer server stopped: %v\n", err)
		os.Exit(1)
	}
}
