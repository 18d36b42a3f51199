// Package main provides the renewable energy community sizing CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/devskill-org/rec-sizing/sizing"
	"github.com/devskill-org/rec-sizing/solver"
)

func main() {
	// Command line flags
	var (
		configFile   = flag.String("config", "config.json", "Configuration file path")
		scenarioFile = flag.String("scenario", "scenario.json", "Scenario file path")
		runID        = flag.String("run-id", "", "Identifier for persisted results (default: timestamp)")
		writeConfig  = flag.Bool("write-config", false, "Write the default configuration to the config path and exit")
		listSolvers  = flag.Bool("solvers", false, "List the registered solver backends and exit")
		help         = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	if *listSolvers {
		fmt.Println("Registered solver backends:", strings.Join(solver.Names(), ", "))
		return
	}

	if *writeConfig {
		if err := sizing.DefaultConfig().SaveConfig(*configFile); err != nil {
			fmt.Println("Error writing configuration:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote default configuration to", *configFile)
		return
	}

	config, err := sizing.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	logger := newLogger(config)

	scenario, err := sizing.LoadScenario(*scenarioFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load scenario")
	}

	// Cancel the solve on Ctrl+C instead of killing the process outright.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := sizing.NewRunner(config, logger)
	results, err := runner.Run(ctx, scenario)
	if err != nil {
		logger.Fatal().Err(err).Msg("sizing run failed")
	}

	if results.Status != "Optimal" {
		logger.Error().Str("status", results.Status).Msg("no optimal solution found")
		os.Exit(2)
	}

	if err := runner.Settle(results, scenario); err != nil {
		logger.Fatal().Err(err).Msg("settlement failed")
	}

	printResults(results)

	if config.PostgresConnString != "" {
		id := *runID
		if id == "" {
			id = time.Now().UTC().Format("20060102T150405Z")
		}
		store, err := sizing.OpenStore(config.PostgresConnString, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot open results store")
		}
		defer store.Close()
		if err := store.SaveRun(ctx, id, results); err != nil {
			logger.Fatal().Err(err).Str("run_id", id).Msg("cannot persist results")
		}
	}
}

func newLogger(config *sizing.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if config.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func printResults(results *sizing.Results) {
	fmt.Printf("Collective sizing finished: status=%s, objective=%.3f EUR, elapsed=%s\n\n",
		results.Status, results.ObjValue, results.Elapsed.Round(time.Millisecond))

	fmt.Printf("%-12s %10s %10s %11s %12s %12s %12s\n",
		"Meter", "PCont[kW]", "NewPV[kW]", "NewBat[kWh]", "Cost[EUR]", "Comp[EUR]", "Final[EUR]")
	for _, n := range sortedKeys(results.PCont) {
		var compensation, compensated float64
		if results.InternalMarket != nil {
			compensation = results.InternalMarket.Compensation[n]
			compensated = results.InternalMarket.CompensatedCost[n]
		}
		fmt.Printf("%-12s %10.3f %10.3f %11.3f %12.4f %12.4f %12.4f\n",
			n, results.PCont[n], results.PGnNew[n], results.EBnNew[n],
			results.CInd[n], compensation, compensated)
	}

	fmt.Printf("\nInternal market prices [EUR/kWh]:")
	for t, price := range results.DualPrices {
		if t%8 == 0 {
			fmt.Printf("\n  ")
		}
		fmt.Printf("%8.4f", price)
	}
	fmt.Println()

	if results.MemberCosts != nil {
		fmt.Printf("\n%-12s %12s %12s\n", "Member", "Cost[EUR]", "Final[EUR]")
		for _, m := range sortedKeys(results.MemberCosts.Total) {
			fmt.Printf("%-12s %12.4f %12.4f\n",
				m, results.MemberCosts.Total[m], results.MemberCosts.CompensatedTotal[m])
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func showHelp() {
	fmt.Println("Renewable Energy Community Sizing")
	fmt.Println()
	fmt.Println("Sizes the shared PV and storage assets of an energy community and")
	fmt.Println("dispatches them against an internal pool market, settling the costs")
	fmt.Println("between installations and members.")
	fmt.Println()
	fmt.Println("Usage:")
	flag.PrintDefaults()
}
