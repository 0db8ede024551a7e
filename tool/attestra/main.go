/*
 * Attestra
 * Copyright (C) 2025  Attestra, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command attestra runs the credential platform: eID intake, credential
// issuance, presentation verification and the event pipeline, behind one
// HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra"
	"github.com/attestra/attestra/lib/config"
	logutils "github.com/attestra/attestra/lib/utils/log"
)

func main() {
	app := kingpin.New("attestra", "Privacy-preserving credential platform.")
	app.HelpFlag.Short('h')

	start := app.Command("start", "Start the platform services.")
	configPath := start.Flag("config", "Path to the YAML configuration file.").
		Short('c').Required().ExistingFile()

	version := app.Command("version", "Print the version and exit.")

	command, err := app.Parse(os.Args[1:])
	if err != nil {
		app.Usage(os.Args[1:])
		os.Exit(1)
	}

	switch command {
	case start.FullCommand():
		if err := onStart(*configPath); err != nil {
			slog.Default().Error("Service exited with error.", "error", err)
			fmt.Fprintln(os.Stderr, trace.UserMessage(err))
			os.Exit(1)
		}
	case version.FullCommand():
		fmt.Printf("Attestra v%v %v (%v/%v)\n",
			attestra.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
}

func onStart(configPath string) error {
	// Every production logger hangs off this handler, so PII redaction is
	// in force before anything else is constructed.
	slog.SetDefault(slog.New(logutils.NewRedactingHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))))

	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return trace.Wrap(run(ctx, cfg))
}
