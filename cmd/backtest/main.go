package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/tradeforge-dev/backsim/internal/backtest"
	"github.com/tradeforge-dev/backsim/internal/config"
	"github.com/tradeforge-dev/backsim/internal/datasource"
	"github.com/tradeforge-dev/backsim/internal/logger"
	"github.com/tradeforge-dev/backsim/internal/strategy"
	"github.com/urfave/cli/v3"
)

// runAction loads the config and bar data, runs the configured strategy, and
// prints the summary report.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dataPath := cmd.String("data")
	outputPath := cmd.String("output")
	strategyName := cmd.String("strategy")

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if strategyName != "" {
		cfg.Strategy.Name = strategyName
	}

	strat, err := strategy.New(cfg.Strategy.Name)
	if err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	engine := backtest.NewEngine(cfg, appLogger)
	engine.SetStrategy(strat)

	if err := engine.LoadData(datasource.NewCSVSource(dataPath)); err != nil {
		return fmt.Errorf("failed to load bars: %w", err)
	}

	if err := engine.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	var bar *progressbar.ProgressBar

	onBar := backtest.OnBarCallback(func(index, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total))
			bar.Describe(fmt.Sprintf("Running %s", strat.Name()))
		}

		_ = bar.Add(1)
	})

	if err := engine.Run(optional.Some(onBar)); err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	fmt.Println(engine.SummaryReport())

	if outputPath != "" {
		if err := engine.WriteResults(outputPath); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}

		log.Printf("Results written to %s", outputPath)
	}

	return nil
}

// schemaAction prints the JSON schema of the config file.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultConfig()

	schema, err := cfg.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run a strategy over historical bar data",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a backtest",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the yaml config file",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to the CSV bar file",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Directory to write the order log and run stats into",
					},
					&cli.StringFlag{
						Name:    "strategy",
						Aliases: []string{"s"},
						Usage:   "Strategy name, overrides the config's strategy.name",
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema for the config file",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
