package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/app"
	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/config"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/export"
	"github.com/dvloznov/s1a-ledger/internal/gcsuploader"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/dvloznov/s1a-ledger/internal/voice"
	"github.com/rs/zerolog"
)

// exitCode is set by subcommands that fail after the ledger is open, so deferred closes still run.
var exitCode int

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	switch os.Args[1] {
	case "show":
		runShow(cfg, log)
	case "set-info":
		runSetInfo(cfg, log)
	case "add":
		runAdd(cfg, log)
	case "update":
		runUpdate(cfg, log)
	case "remove":
		runRemove(cfg, log)
	case "dictate":
		runDictate(cfg, log, "dictate")
	case "smart-add":
		runDictate(cfg, log, "smart-add")
	case "transcribe":
		runTranscribe(cfg, log)
	case "export":
		runExport(cfg, log)
	case "import":
		runImport(cfg, log)
	case "reset":
		runReset(cfg, log)
	case "upload":
		runUpload(cfg, log)
	case "archive":
		runArchive(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func printUsage() {
	fmt.Println("S1a-HKD ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  show       Print the taxpayer header and all transactions")
	fmt.Println("  set-info   Set one header field")
	fmt.Println("  add        Append a transaction")
	fmt.Println("  update     Change one field of a transaction")
	fmt.Println("  remove     Delete a transaction")
	fmt.Println("  dictate    Dictate a header field or a transaction description")
	fmt.Println("  smart-add  Dictate a whole transaction")
	fmt.Println("  transcribe Print what an audio file says, without touching the ledger")
	fmt.Println("  export     Write the ledger as Word, Excel or JSON backup")
	fmt.Println("  import     Replace the ledger with a JSON backup")
	fmt.Println("  reset      Erase the saved ledger and restore the sample")
	fmt.Println("  upload     Upload an export to GCS")
	fmt.Println("  archive    Archive the ledger to BigQuery, or list archived rows")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// openApp opens the ledger; callers must Close it so pending edits are flushed.
func openApp(cfg config.Config, log zerolog.Logger, fs *flag.FlagSet, opts app.Options) (*app.App, context.Context) {
	dbPath := fs.Lookup("db")
	if dbPath != nil && dbPath.Value.String() != "" {
		cfg.Database.Path = dbPath.Value.String()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	return a, ctx
}

func closeApp(a *app.App, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to close ledger")
	}
}

func newFlagSet(name string, cfg config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.String("db", cfg.Database.Path, "Path to the sqlite database")
	return fs
}

func runShow(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("show", cfg)
	fs.Parse(os.Args[2:])

	a, _ := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	printLedger(a.Session.Store.Snapshot())
}

func printLedger(state domain.State) {
	fmt.Println("\n=== Taxpayer ===")
	for _, f := range domain.InfoFields {
		fmt.Printf("%-16s %s\n", f.Label()+":", state.Info.Get(f))
	}

	fmt.Println("\n=== Transactions ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tDESCRIPTION\tAMOUNT")
	for _, t := range state.Transactions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Date, t.Description, export.FormatMoney(t.Amount))
	}
	fmt.Fprintf(w, "\t\tTổng cộng\t%s\n", export.FormatMoney(state.Total()))
	w.Flush()
}

func runSetInfo(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("set-info", cfg)
	fieldName := fs.String("field", "", "Header field: name, taxId, address, location or period")
	value := fs.String("value", "", "New value")
	fs.Parse(os.Args[2:])

	field, err := domain.ParseInfoField(*fieldName)
	if err != nil {
		log.Fatal().Err(err).Msg("Usage: cli set-info -field NAME -value TEXT")
	}

	a, _ := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	a.Session.Store.SetInfoField(field, *value)
	fmt.Printf("%s: %s\n", field.Label(), *value)
}

func runAdd(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("add", cfg)
	date := fs.String("date", "", "Date as DD/MM/YYYY (defaults to today)")
	description := fs.String("description", "", "What was sold")
	amount := fs.String("amount", "", "Amount in VND, separators allowed")
	fs.Parse(os.Args[2:])

	a, _ := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	tx := domain.Transaction{
		Date:        *date,
		Description: *description,
		Amount:      domain.ParseAmount(*amount),
	}
	if tx.Date == "" {
		tx.Date = domain.FormatDate(a.Now())
	}

	id := a.Session.Store.AppendTransaction(tx)
	fmt.Printf("Added transaction %s\n", id)
}

func runUpdate(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("update", cfg)
	id := fs.String("id", "", "Transaction ID")
	fieldName := fs.String("field", "", "Field: date, description or amount")
	value := fs.String("value", "", "New value")
	fs.Parse(os.Args[2:])

	field, err := domain.ParseTransactionField(*fieldName)
	if *id == "" || err != nil {
		log.Fatal().Err(err).Msg("Usage: cli update -id ID -field FIELD -value TEXT")
	}

	a, _ := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	if !hasTransaction(a.Session.Store.Snapshot(), *id) {
		fmt.Fprintf(os.Stderr, "No transaction %s\n", *id)
		exitCode = 1
		return
	}
	a.Session.Store.UpdateTransactionField(*id, field, *value)
	fmt.Printf("Updated transaction %s\n", *id)
}

func runRemove(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("remove", cfg)
	id := fs.String("id", "", "Transaction ID")
	fs.Parse(os.Args[2:])

	if *id == "" {
		log.Fatal().Msg("Usage: cli remove -id ID")
	}

	a, _ := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	a.Session.Store.RemoveTransaction(*id)
	fmt.Printf("Removed transaction %s\n", *id)
}

// runDictate records on the local microphone until Enter is pressed, or reads a clip from -file.
func runDictate(cfg config.Config, log zerolog.Logger, name string) {
	fs := newFlagSet(name, cfg)
	targetKey := fs.String("target", "", "Target: info:<field> or transaction:<id>")
	file := fs.String("file", "", "Audio file to use instead of the microphone")
	mimeType := fs.String("mime", "", "MIME type of -file (guessed from the extension)")
	fs.Parse(os.Args[2:])

	if name == "smart-add" {
		*targetKey = voice.SmartAdd.Key()
	}
	target, err := voice.ParseTarget(*targetKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Usage: cli dictate -target info:name|transaction:ID [-file clip.ogg]")
	}

	a, ctx := openApp(cfg, log, fs, app.Options{Microphone: *file == ""})
	defer closeApp(a, log)

	var res voice.Result
	if *file != "" {
		clip := readClip(log, *file, *mimeType)
		res, err = a.Session.Voice.Dictate(ctx, target, clip)
	} else {
		res, err = recordAndDictate(ctx, a, target)
	}

	view := a.Session.Voice.View()
	if err != nil {
		if view.Config != nil {
			fmt.Fprintln(os.Stderr, view.Config.Message)
		} else if view.Status != nil {
			fmt.Fprintln(os.Stderr, view.Status.Message)
		}
		log.Error().Err(err).Str("target", target.Key()).Msg("Dictation failed")
		exitCode = 1
		return
	}

	if view.Status != nil {
		fmt.Println(view.Status.Message)
	}
	if res.Transaction != nil {
		fmt.Printf("%s  %s  %s  %s\n", res.Transaction.ID, res.Transaction.Date,
			res.Transaction.Description, export.FormatMoney(res.Transaction.Amount))
		return
	}
	fmt.Println(res.Text)
}

func runTranscribe(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("transcribe", cfg)
	file := fs.String("file", "", "Audio file to transcribe")
	mimeType := fs.String("mime", "", "MIME type of -file (guessed from the extension)")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Usage: cli transcribe -file clip.ogg")
	}
	clip := readClip(log, *file, *mimeType)

	a, ctx := openApp(cfg, log, fs, app.Options{Ephemeral: true})
	defer closeApp(a, log)

	text := a.Transcriber.Verbatim(ctx, clip)
	if text == "" {
		fmt.Fprintln(os.Stderr, "Nothing recognized.")
		exitCode = 1
		return
	}
	fmt.Println(text)
}

func recordAndDictate(ctx context.Context, a *app.App, target voice.Target) (voice.Result, error) {
	if err := a.Session.Voice.BeginCapture(ctx, target); err != nil {
		return voice.Result{}, err
	}
	fmt.Println("Recording... press Enter to stop.")
	bufio.NewReader(os.Stdin).ReadString('\n')

	job, err := a.Session.Voice.EndCapture(ctx, target)
	if err != nil {
		return voice.Result{}, err
	}

	res := voice.Result{Target: target.Key(), Text: job.Result}
	if target.IsSmartAdd() {
		for _, t := range a.Session.Store.Snapshot().Transactions {
			if t.ID == job.Result {
				row := t
				res.Transaction = &row
			}
		}
	}
	return res, nil
}

func readClip(log zerolog.Logger, path, mimeType string) capture.Clip {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read audio file")
	}
	if mimeType == "" {
		mimeType = mimeFromExt(path)
	}
	return capture.Clip{Data: data, MIMEType: mimeType}
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return "audio/webm"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	}
	return capture.DefaultMIMEType
}

func runExport(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("export", cfg)
	format := fs.String("format", "doc", "Format: doc, xls or json")
	out := fs.String("out", "", "Output directory or file (defaults to the export's own file name)")
	share := fs.Bool("share", false, "Use an ASCII file name for the Excel export")
	fs.Parse(os.Args[2:])

	f, err := export.ParseFormat(*format)
	if err != nil {
		log.Fatal().Err(err).Msg("Usage: cli export -format doc|xls|json [-out PATH]")
	}

	a, _ := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	state := a.Session.Store.Snapshot()
	art, err := export.Render(f, state, a.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}
	if *share && f == export.FormatExcel {
		art.FileName = export.ShareFileName(state.Info.Name)
	}

	path := art.FileName
	if *out != "" {
		path = *out
		if info, err := os.Stat(*out); err == nil && info.IsDir() {
			path = filepath.Join(*out, art.FileName)
		}
	}
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to write export")
	}
	fmt.Printf("Wrote %s\n", path)
}

func runImport(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("import", cfg)
	file := fs.String("file", "", "Path to a JSON backup")
	uri := fs.String("uri", "", "gs:// URI of a JSON backup")
	fs.Parse(os.Args[2:])

	if (*file == "") == (*uri == "") {
		log.Fatal().Msg("Usage: cli import -file PATH | -uri gs://BUCKET/OBJECT")
	}
	if *uri != "" && cfg.GCS.Bucket == "" {
		bucket, _, err := gcsuploader.ParseURI(*uri)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid backup URI")
		}
		cfg.GCS.Bucket = bucket
	}

	a, ctx := openApp(cfg, log, fs, app.Options{Cloud: *uri != ""})
	defer closeApp(a, log)

	var data []byte
	var err error
	if *uri != "" {
		if a.Storage == nil {
			log.Fatal().Msg("GCS is not configured (gcs.bucket)")
		}
		data, err = a.Storage.Fetch(ctx, *uri)
	} else {
		data, err = os.ReadFile(*file)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read backup")
	}

	state, err := a.Session.Import(bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msg("Import failed, ledger unchanged")
		exitCode = 1
		return
	}
	fmt.Printf("Imported %d transactions for %s\n", len(state.Transactions), state.Info.Name)
}

func runReset(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("reset", cfg)
	yes := fs.Bool("yes", false, "Confirm erasing the saved ledger")
	fs.Parse(os.Args[2:])

	if !*yes {
		fmt.Fprintln(os.Stderr, "This erases the saved ledger. Re-run with -yes to confirm.")
		os.Exit(1)
	}

	a, ctx := openApp(cfg, log, fs, app.Options{})
	defer closeApp(a, log)

	if err := a.Session.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("Reset failed")
		exitCode = 1
		return
	}
	fmt.Println("Ledger reset to the sample.")
}

func runUpload(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("upload", cfg)
	format := fs.String("format", "json", "Format: doc, xls or json")
	bucket := fs.String("bucket", cfg.GCS.Bucket, "GCS bucket name")
	fs.Parse(os.Args[2:])

	f, err := export.ParseFormat(*format)
	if err != nil || *bucket == "" {
		log.Fatal().Err(err).Msg("Usage: cli upload -bucket NAME [-format doc|xls|json]")
	}
	cfg.GCS.Bucket = *bucket

	a, ctx := openApp(cfg, log, fs, app.Options{Cloud: true})
	defer closeApp(a, log)
	if a.Storage == nil {
		log.Error().Msg("GCS is unavailable")
		exitCode = 1
		return
	}

	state := a.Session.Store.Snapshot()
	art, err := export.Render(f, state, a.Now())
	if err != nil {
		log.Error().Err(err).Msg("Export failed")
		exitCode = 1
		return
	}

	object := gcsuploader.ObjectName(state.Info.TaxID, art.FileName, a.Now())
	log.Info().
		Str("bucket", *bucket).
		Str("object", object).
		Msg("Uploading export to GCS")

	uri, err := a.Storage.Upload(ctx, *bucket, object, art.ContentType, art.Data)
	if err != nil {
		log.Error().Err(err).Msg("Upload failed")
		exitCode = 1
		return
	}
	fmt.Printf("Uploaded %s to %s\n", art.FileName, uri)
}

func runArchive(cfg config.Config, log zerolog.Logger) {
	fs := newFlagSet("archive", cfg)
	project := fs.String("project", cfg.BigQuery.Project, "GCP project ID")
	dataset := fs.String("dataset", cfg.BigQuery.Dataset, "BigQuery dataset")
	list := fs.Bool("list", false, "List archived rows for the current tax id and period instead of archiving")
	fs.Parse(os.Args[2:])

	if *project == "" {
		log.Fatal().Msg("Usage: cli archive -project ID [-dataset NAME] [-list]")
	}
	cfg.BigQuery.Project = *project
	cfg.BigQuery.Dataset = *dataset

	a, ctx := openApp(cfg, log, fs, app.Options{Cloud: true})
	defer closeApp(a, log)
	if a.Archive == nil {
		log.Error().Msg("BigQuery is unavailable")
		exitCode = 1
		return
	}

	state := a.Session.Store.Snapshot()
	if *list {
		rows, err := a.Archive.QueryByPeriod(ctx, state.Info.TaxID, state.Info.Period)
		if err != nil {
			log.Error().Err(err).Msg("Query failed")
			exitCode = 1
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ARCHIVED\tARCHIVE\tROW\tDATE\tDESCRIPTION\tAMOUNT")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", r.ArchivedTS.In(cfg.Location()).Format(time.DateTime),
				r.ArchiveID, r.RowNo, r.DateText, r.Description, export.FormatMoney(r.Amount))
		}
		w.Flush()
		return
	}

	if err := a.Archive.EnsureTable(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to prepare archive table")
		exitCode = 1
		return
	}
	archiveID, n, err := a.Archive.ArchiveState(ctx, state, a.Now())
	if err != nil {
		log.Error().Err(err).Msg("Archive failed")
		exitCode = 1
		return
	}
	fmt.Printf("Archived %d transactions as %s\n", n, archiveID)
}

func hasTransaction(state domain.State, id string) bool {
	for _, t := range state.Transactions {
		if t.ID == id {
			return true
		}
	}
	return false
}
