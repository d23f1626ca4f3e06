package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/receiptocr/receipt-ocr/internal/receipt"
	"github.com/receiptocr/receipt-ocr/internal/reconcile"
	"github.com/receiptocr/receipt-ocr/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const (
	defaultMasterTaxID     = "0994000244843"
	defaultMasterAddressTH = "การไฟฟ้าฝ่ายผลิตแห่งประเทศไทย (กฟผ.) 53 หมู่ 2 ถนนจรัญสนิทวงศ์ ตำบลบางกรวย อำเภอบางกรวย จังหวัดนนทบุรี 11130"
	defaultMasterAddressEN = "Electricity Generating Authority of Thailand (EGAT) 53 Moo 2 Charan Sanit Wong Road Bang Kruai Nonthaburi 11130"
)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Values in .env become environment variables; real ones take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("receipt-ocr")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbDriver         = fs.StringLong("db-driver", "sqlite", "Database driver: 'sqlite', 'postgres' or 'bolt'")
		dbPath           = fs.StringLong("db", "receipt-ocr.db", "Database file path, or DSN for postgres")
		storagePath      = fs.StringLong("storage", "./uploads", "Directory for uploaded receipt images")
		scannerType      = fs.StringLong("scanner", "process", "Scanner type: 'process', 'gemini' or 'ollama'")
		ocrCommand       = fs.StringLong("ocr-command", "python3", "OCR program to run for the process scanner")
		ocrScript        = fs.StringLong("ocr-script", "ocr_processor.py", "Script passed to the OCR program (empty for none)")
		ocrTimeout       = fs.DurationLong("ocr-timeout", scanning.DefaultTimeout, "Maximum duration of one OCR run")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "qwen2.5vl:7b", "Ollama vision model name")
		requiredFields   = fs.StringLong("required-fields", strings.Join(reconcile.DefaultRequired, ","), "Comma-separated fields every receipt must have")
		templateRequired = fs.StringLong("template-required", "", "Per-template required fields, e.g. 'A5=amount,liters;PTT-Kbank=amount'")
		addressThreshold = fs.Float64Long("address-threshold", reconcile.DefaultAddressThreshold, "Minimum address similarity, between 0 and 1")
		masterTaxID      = fs.StringLong("master-tax-id", defaultMasterTaxID, "Tax id seeded into an empty master record")
		masterAddressTH  = fs.StringLong("master-address-th", defaultMasterAddressTH, "Thai address seeded into an empty master record")
		masterAddressEN  = fs.StringLong("master-address-en", defaultMasterAddressEN, "English address seeded into an empty master record")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_                = fs.StringLong("config", "", "Config file (optional)")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_OCR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	templates, err := reconcile.ParseTemplates(*templateRequired, *addressThreshold)
	if err != nil {
		slog.Error("Invalid template rules", "error", err)
		os.Exit(1)
	}
	rules := reconcile.Config{
		Default: reconcile.Rules{
			Required:         reconcile.ParseFields(*requiredFields),
			AddressThreshold: *addressThreshold,
		},
		Templates: templates,
	}
	if err := rules.Validate(); err != nil {
		slog.Error("Invalid validation rules", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver)
	db, err := openDB(*dbDriver, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "process":
		var args []string
		if *ocrScript != "" {
			args = []string{*ocrScript}
		}
		slog.Info("Initializing OCR process scanner...", "command", *ocrCommand, "script", *ocrScript, "timeout", *ocrTimeout)
		scanner, err = scanning.NewProcess(*ocrCommand, args, *ocrTimeout)
		if err != nil {
			slog.Error("Failed to initialize OCR process", "error", err)
			os.Exit(1)
		}
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "process, gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	receiptService := receipt.NewService(db, scanner, store, rules)

	if _, err := receiptService.SeedMaster(receipt.MasterInput{
		EgatAddressTH:  optional(*masterAddressTH),
		EgatAddressENG: optional(*masterAddressEN),
		EgatTaxID:      optional(*masterTaxID),
	}); err != nil {
		slog.Error("Failed to seed master record", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := receipt.NewServer(receiptService).Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

func openDB(driver, path string) (receipt.DB, error) {
	switch driver {
	case "sqlite":
		return receipt.NewSQLiteDB(path)
	case "postgres":
		return receipt.NewPostgresDB(path)
	case "bolt":
		return receipt.NewBoltDB(path)
	}
	return nil, fmt.Errorf("unknown database driver %q (want sqlite, postgres or bolt)", driver)
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
