package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bluejazz822/networkdb-sub008/config"
	"github.com/bluejazz822/networkdb-sub008/export"
	"github.com/bluejazz822/networkdb-sub008/export/format"
	"github.com/bluejazz822/networkdb-sub008/export/source"
	"github.com/bluejazz822/networkdb-sub008/logging/logger"
)

var outputExtensions = map[format.Format]string{
	format.CSV:   "csv",
	format.Excel: "xlsx",
	format.JSON:  "json",
	format.PDF:   "pdf",
}

// NewExportCommand creates the one-shot export command.
func NewExportCommand() *cobra.Command {
	var (
		configPath   string
		formatName   string
		resourceType string
		output       string
		fields       []string
		filters      []string
		batchSize    int
		streaming    bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run a single export and write the result to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), exportRequest{
				configPath:   configPath,
				formatName:   formatName,
				resourceType: resourceType,
				output:       output,
				fields:       fields,
				filters:      filters,
				batchSize:    batchSize,
				streaming:    streaming,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&formatName, "format", "f", "csv", "output format (csv, excel, json, pdf)")
	cmd.Flags().StringVarP(&resourceType, "resource", "r", "", "resource type to export")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default export.<ext>)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to include, in order")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "equality filter key=value, repeatable")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per fetch batch (0 uses the configured default)")
	cmd.Flags().BoolVar(&streaming, "streaming", false, "force streaming generation")
	_ = cmd.MarkFlagRequired("resource")

	return cmd
}

type exportRequest struct {
	configPath   string
	formatName   string
	resourceType string
	output       string
	fields       []string
	filters      []string
	batchSize    int
	streaming    bool
}

func runExport(ctx context.Context, req exportRequest) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(req.configPath)
	if err != nil {
		return err
	}

	cleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()
	log := logger.StdLogger()

	if req.configPath != "" {
		// Log level is the only knob safe to hot-swap mid-run.
		config.Watch(func(updated *config.Config) {
			if updated.Logger != nil && updated.Logger.Level > 0 {
				log.SetLevel(logrus.Level(updated.Logger.Level))
			}
		})
	}

	adapter, closeSource, err := buildAdapter(ctx, cfg.Source)
	if err != nil {
		return err
	}
	defer closeSource()

	svc, err := export.NewService(cfg.Exporter, log, adapter)
	if err != nil {
		return err
	}
	svc.Start(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	defer svc.Shutdown(shutdownCtx)

	filterMap, err := parseFilters(req.filters)
	if err != nil {
		return err
	}

	done := make(chan export.Progress, 1)
	opts := &export.Options{
		Format:       format.Format(req.formatName),
		ResourceType: req.resourceType,
		Fields:       req.fields,
		Filters:      filterMap,
		BatchSize:    req.batchSize,
		Streaming:    req.streaming,
	}
	jobID, err := svc.StartExport(opts, func(p export.Progress) {
		fmt.Fprintf(os.Stderr, "\r%-12s %3d%% (%d/%d records)", p.Status, p.Progress, p.ProcessedRecords, p.TotalRecords)
		if p.Status.Terminal() {
			fmt.Fprintln(os.Stderr)
			select {
			case done <- p:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	var final export.Progress
	select {
	case final = <-done:
	case <-ctx.Done():
		_ = svc.CancelExport(jobID)
		final = <-done
	}

	if final.Status != export.StatusCompleted {
		if final.Error != nil {
			return fmt.Errorf("export %s %s in %s stage: %s", jobID, final.Status, final.Error.Stage, final.Error.Message)
		}
		return fmt.Errorf("export %s %s", jobID, final.Status)
	}

	result, err := svc.GetExportResult(jobID)
	if err != nil {
		return err
	}

	output := req.output
	if output == "" {
		output = "export." + outputExtensions[opts.Format]
	}
	if err := os.WriteFile(output, result.Buffer, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	fmt.Printf("Wrote %s: %d records, %d bytes (%s)\n",
		output, result.Metadata.RecordCount, result.Metadata.ByteSize, result.Metadata.MimeType)
	return nil
}

// buildAdapter constructs the data-source adapter named by the config.
// Database-backed adapters are wrapped with a circuit breaker.
func buildAdapter(ctx context.Context, src *config.Source) (source.Adapter, func(), error) {
	noop := func() {}

	switch src.Driver {
	case "", "memory":
		return sampleAdapter(), noop, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, src.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		adapter, err := source.NewPostgresAdapter(pool, src.Tables)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return source.NewBreakerAdapter("postgres", adapter), pool.Close, nil

	case "mysql", "sqlite3":
		db, err := sql.Open(src.Driver, src.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s source: %w", src.Driver, err)
		}
		adapter, err := source.NewSQLAdapter(db, src.Tables)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return source.NewBreakerAdapter(src.Driver, adapter), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown source driver %q", src.Driver)
	}
}

// sampleAdapter seeds an in-memory source so the CLI works out of the
// box without a database.
func sampleAdapter() source.Adapter {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", []format.Record{
		{"id": "vpc-0a1b2c3d", "name": "prod-core", "cidr": "10.0.0.0/16", "region": "us-east-1", "state": "available"},
		{"id": "vpc-1b2c3d4e", "name": "prod-edge", "cidr": "10.1.0.0/16", "region": "us-west-2", "state": "available"},
		{"id": "vpc-2c3d4e5f", "name": "staging", "cidr": "10.2.0.0/16", "region": "eu-west-1", "state": "pending"},
	})
	adapter.Load("subnet", []format.Record{
		{"id": "subnet-0aa", "vpc_id": "vpc-0a1b2c3d", "cidr": "10.0.1.0/24", "az": "us-east-1a"},
		{"id": "subnet-0ab", "vpc_id": "vpc-0a1b2c3d", "cidr": "10.0.2.0/24", "az": "us-east-1b"},
		{"id": "subnet-1aa", "vpc_id": "vpc-1b2c3d4e", "cidr": "10.1.1.0/24", "az": "us-west-2a"},
	})
	return adapter
}

func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		filters[key] = value
	}
	return filters, nil
}
