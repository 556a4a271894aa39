package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"flowpilot-go/application"
	"flowpilot-go/core/eventbus"
	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/browser/browsertest"
	"flowpilot-go/infrastructure/config"
	"flowpilot-go/infrastructure/logging"
	"flowpilot-go/infrastructure/repository"
	"flowpilot-go/resources"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	headless   bool
	simulate   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "flowpilot",
		Short:        "Drive Google Labs Flow image generation from a stealth browser",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&flags.headless, "headless", false, "run Chrome without a window (overrides config)")
	root.PersistentFlags().BoolVar(&flags.simulate, "simulate", false, "drive an in-memory page instead of Chrome")

	root.AddCommand(
		newServeCmd(flags),
		newGenerateCmd(flags),
		newUpscaleCmd(flags),
		newCheckCmd(flags),
	)
	return root
}

// app holds the wired engine and everything that must be closed after it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	coord    *application.Coordinator
	eventBus eventbus.EventBus
	mongoDB  *repository.MongoDB
	closeLog func() error
}

func newApp(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = flags.headless
	}

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}

	locators, err := loadLocators(cfg.Automation.LocatorsFile)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Info("Locators loaded", "count", locators.Count())

	history, err := a.openHistory(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.eventBus = eventbus.New(100)
	a.coord = application.NewCoordinator(&application.CoordinatorConfig{
		EventBus:      a.eventBus,
		Locators:      locators,
		Automation:    cfg.Automation,
		Target:        cfg.Target,
		DriverFactory: driverFactory(cfg, flags.simulate),
		History:       history,
		Logger:        logger,
	})
	return a, nil
}

func (a *app) openHistory(ctx context.Context) (generation.Repository, error) {
	if !a.cfg.Mongo.Enabled {
		return repository.NewMemoryHistoryRepository(0), nil
	}

	db, err := repository.NewMongoDB(ctx, a.cfg.MongoDBConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		a.logger.Warn("Failed to ensure history indexes", "error", err)
	}
	a.mongoDB = db
	return repository.NewMongoHistoryRepository(db, a.logger), nil
}

// start launches the browser session.
func (a *app) start(ctx context.Context) error {
	return a.coord.StartSession(ctx)
}

func (a *app) close() {
	if a.coord != nil {
		a.coord.Stop()
	}
	if a.eventBus != nil {
		a.eventBus.Close()
	}
	if a.mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mongoDB.Close(ctx); err != nil {
			a.logger.Warn("Failed to close MongoDB", "error", err)
		}
		cancel()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func loadLocators(overridePath string) (*locator.Registry, error) {
	registry := locator.NewRegistry()
	loader := locator.NewLoader(registry)
	if err := loader.LoadFromFS(resources.LocatorFiles); err != nil {
		return nil, fmt.Errorf("failed to load locators: %w", err)
	}
	if overridePath != "" {
		if err := loader.LoadFile(overridePath); err != nil {
			return nil, fmt.Errorf("failed to load locators from %s: %w", overridePath, err)
		}
	}
	if err := registry.CheckComplete(); err != nil {
		return nil, err
	}
	return registry, nil
}

func driverFactory(cfg *config.Config, simulate bool) application.DriverFactory {
	if simulate {
		return func() browser.Driver {
			return browsertest.NewPage(cfg.Browser.DownloadDir)
		}
	}
	return func() browser.Driver {
		return browser.NewChromeDPDriver(cfg.DriverConfig())
	}
}
