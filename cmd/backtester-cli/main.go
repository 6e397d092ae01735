package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"quantlab/internal/config"
	"quantlab/internal/report"
	"quantlab/internal/store"
	"quantlab/internal/strategy/builtins"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backtester-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                         Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  strategies                      List built-in strategies\n")
		fmt.Fprintf(os.Stderr, "  import -symbol SYM [-market us] FILE.csv\n")
		fmt.Fprintf(os.Stderr, "                                  Import OHLCV bars into the Parquet store\n")
		fmt.Fprintf(os.Stderr, "  symbols [-market us]            List symbols with stored bars\n")
		fmt.Fprintf(os.Stderr, "  results [-limit 20]             List saved run results\n")
		fmt.Fprintf(os.Stderr, "  show ID                         Print a saved run result as JSON\n")
		fmt.Fprintf(os.Stderr, "\nThe config file is read from $BACKTESTER_CONFIG or %s.\n\n", config.DefaultPath)
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	args := os.Args[2:]
	var err error

	switch os.Args[1] {
	case "version":
		fmt.Printf("backtester-cli %s\n", version)

	case "strategies":
		for _, name := range builtins.NewRegistry().List() {
			fmt.Println(name)
		}

	case "import":
		err = runImport(ctx, args)

	case "symbols":
		err = runSymbols(ctx, args)

	case "results":
		err = runResults(ctx, args)

	case "show":
		err = runShow(ctx, args)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(""))
}

func runImport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	symbol := fs.String("symbol", "", "symbol the file holds (required)")
	market := fs.String("market", "", "market directory (default from config)")
	fs.Parse(args)

	if *symbol == "" || fs.NArg() != 1 {
		return errors.New("usage: import -symbol SYM [-market us] FILE.csv")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *market == "" {
		*market = cfg.Backtest.Market
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	bars, err := store.ReadCSVBars(f, *symbol)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", fs.Arg(0), err)
	}
	if err := store.NewParquetStore(cfg.Storage.DataDir).WriteBarsForMarket(bars, *market); err != nil {
		return err
	}
	fmt.Printf("imported %d bars for %s into %s/%s\n", len(bars), strings.ToUpper(*symbol), cfg.Storage.DataDir, *market)
	return nil
}

func runSymbols(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	market := fs.String("market", "", "market directory (default from config)")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *market == "" {
		*market = cfg.Backtest.Market
	}
	symbols, err := store.NewParquetStore(cfg.Storage.DataDir).ListSymbols(ctx, *market)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}

func openResults() (*store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.SQLitePath == "" {
		return nil, errors.New("storage.sqlite_path is not configured")
	}
	return store.NewSQLiteStore(cfg.Storage.SQLitePath)
}

func runResults(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum rows (0 = all)")
	fs.Parse(args)

	db, err := openResults()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListResults(ctx, *limit)
	if err != nil {
		return err
	}

	return report.WriteResults(os.Stdout, rows)
}

func runShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show ID")
	}
	db, err := openResults()
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := db.GetResult(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
