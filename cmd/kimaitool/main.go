/*
main.go - Application entry point

PURPOSE:
  Command-line front end for the Kimai billing engine. Exactly one action
  flag per invocation; every failure ends the process with a descriptive
  message - money-related ambiguity always halts, nothing is retried.

ACTIONS:
  --configure                 Save connection params to the config file
  --getCustomers              Dump customers as JSON
  --getProjects               Dump projects as JSON
  --getActivities             Dump activities as JSON
  --getTimesheets             Dump timesheets as JSON
  --setTimesheets FILE        Import calendar events from a JSON file
  --invoice                   Generate invoices for all eligible customers
  --invoiceInProgressCancel   Revert an unfinished invoice run
  --invoiceInProgressSubmit   Finalize an unfinished invoice run
  --cra                       Write per-customer activity reports

CONNECTION FLAGS (override the config file):
  --kimaiUrl       Kimai URL with protocol and /api suffix
  --kimaiUsername  Kimai username
  --kimaiToken     Kimai API token
  --kimaiUserId    User id for timesheet import
  --vatRate        Flat VAT rate (e.g. 0.20)
  --template       Invoice template workbook (xlsx)
  --outputDir      Directory for generated documents
  --journal        SQLite journal path (empty disables journaling)

EXAMPLES:
  kimaitool --configure --kimaiUrl=https://kimai.example.org/api \
            --kimaiUsername=alice --kimaiToken=secret
  kimaitool --invoice --template=facture.xlsx --outputDir=out
  kimaitool --invoiceInProgressSubmit
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/config"
	"github.com/warp/invoice-engine/kimai"
	"github.com/warp/invoice-engine/store/sqlite"
	"github.com/warp/invoice-engine/workflow"
)

func main() {
	var (
		configure     = pflag.Bool("configure", false, "save params in config file")
		getCustomers  = pflag.Bool("getCustomers", false, "display a json list of customers")
		getProjects   = pflag.Bool("getProjects", false, "display a json list of projects")
		getActivities = pflag.Bool("getActivities", false, "display a json list of activities")
		getTimesheets = pflag.Bool("getTimesheets", false, "display a json list of timesheets")
		setTimesheets = pflag.String("setTimesheets", "", "import events from file")
		invoice       = pflag.Bool("invoice", false, "generate invoices for all eligible customers")
		cancelRun     = pflag.Bool("invoiceInProgressCancel", false, "revert an unfinished invoice run")
		submitRun     = pflag.Bool("invoiceInProgressSubmit", false, "finalize an unfinished invoice run")
		cra           = pflag.Bool("cra", false, "write per-customer activity reports")

		kimaiURL      = pflag.String("kimaiUrl", "", "the Kimai url with protocol and /api suffix")
		kimaiUsername = pflag.String("kimaiUsername", "", "the Kimai username")
		kimaiToken    = pflag.String("kimaiToken", "", "the Kimai API token")
		kimaiUserID   = pflag.Int("kimaiUserId", 0, "the user identifier to set timesheets")
		vatRate       = pflag.Float64("vatRate", 0, "flat VAT rate, e.g. 0.20")
		template      = pflag.String("template", "", "invoice template workbook (xlsx)")
		outputDir     = pflag.String("outputDir", "", "directory for generated documents")
		journalPath   = pflag.String("journal", "", "sqlite run journal path (empty disables)")
	)
	pflag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath, err := config.DefaultPath()
	if err != nil {
		logger.Fatal("cannot resolve config path", zap.Error(err))
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("cannot load config", zap.Error(err))
	}

	// Flags override the config file.
	if *kimaiURL != "" {
		cfg.KimaiURL = *kimaiURL
	}
	if *kimaiUsername != "" {
		cfg.KimaiUsername = *kimaiUsername
	}
	if *kimaiToken != "" {
		cfg.KimaiToken = *kimaiToken
	}
	if *kimaiUserID != 0 {
		cfg.KimaiUserID = *kimaiUserID
	}
	if *vatRate != 0 {
		cfg.VATRate = *vatRate
	}
	if *template != "" {
		cfg.Template = *template
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	if *configure {
		if err := config.Save(configPath, cfg); err != nil {
			logger.Fatal("cannot save config", zap.Error(err))
		}
		logger.Info("configuration saved", zap.String("path", configPath))
		return
	}

	if cfg.KimaiURL == "" {
		logger.Fatal("kimai URL is not defined")
	}
	if cfg.KimaiUsername == "" {
		logger.Fatal("kimai username is not defined")
	}
	if cfg.KimaiToken == "" {
		logger.Fatal("kimai token is not defined")
	}

	client := kimai.NewClient(cfg.KimaiURL, cfg.KimaiUsername, cfg.KimaiToken)
	runner := &workflow.Runner{
		Service:      client,
		Log:          logger,
		VATRate:      decimal.NewFromFloat(cfg.VATRate),
		TemplatePath: cfg.Template,
		OutputDir:    cfg.OutputDir,
		Now:          time.Now,
	}

	if *journalPath != "" {
		journal, err := sqlite.Open(*journalPath)
		if err != nil {
			logger.Fatal("cannot open journal", zap.Error(err))
		}
		defer journal.Close()
		runner.Journal = journal
	}

	ctx := context.Background()

	switch {
	case *getCustomers:
		records, err := client.ListCustomers(ctx)
		exitOnError(logger, err)
		dumpJSON(logger, records)
	case *getProjects:
		records, err := client.ListProjects(ctx)
		exitOnError(logger, err)
		dumpJSON(logger, records)
	case *getActivities:
		records, err := client.ListActivities(ctx)
		exitOnError(logger, err)
		dumpJSON(logger, records)
	case *getTimesheets:
		records, err := client.ListTimeEntries(ctx, kimai.EntryFilter{})
		exitOnError(logger, err)
		dumpJSON(logger, records)
	case *setTimesheets != "":
		if cfg.KimaiUserID == 0 {
			logger.Fatal("kimai user id is required to import timesheets")
		}
		_, err := runner.ImportEvents(ctx, *setTimesheets, cfg.KimaiUserID)
		exitOnError(logger, err)
	case *invoice:
		_, err := runner.Invoice(ctx)
		exitOnError(logger, err)
	case *cancelRun:
		exitOnError(logger, runner.InvoiceInProgressCancel(ctx))
	case *submitRun:
		exitOnError(logger, runner.InvoiceInProgressSubmit(ctx))
	case *cra:
		_, err := runner.CRA(ctx)
		exitOnError(logger, err)
	default:
		pflag.Usage()
		os.Exit(2)
	}
}

func exitOnError(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("run aborted", zap.Error(err))
	}
}

func dumpJSON(logger *zap.Logger, v any) {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		logger.Fatal("cannot encode output", zap.Error(err))
	}
	fmt.Println(string(out))
}
