// Command gloss annotates a text document against an OpenAI-compatible
// annotation service. Progress is saved after every batch, so an interrupted
// run resumes where it stopped.
//
// Modes (mutually exclusive):
//
//	default               process all pending batches
//	-initialize-only      create the document file and batch layout, no calls
//	-check-status-only    print progress and exit
//	-process-batches      process only the listed batch numbers, e.g. 2,5,7
//	-up-to-batch N        stop after the first N batches
//	-reprocess-range A-B  re-annotate the word range A..B
//	-clear-batch N        reset batch N to pending
//	-clear-range A-B      reset the word range A..B to pending
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cognicore/gloss/internal/llm"
	"github.com/cognicore/gloss/pkg/gloss"
	"github.com/cognicore/gloss/pkg/gloss/annotate"
	"github.com/cognicore/gloss/pkg/gloss/config"
	"github.com/cognicore/gloss/pkg/gloss/faillog"
	faillogsqlite "github.com/cognicore/gloss/pkg/gloss/faillog/sqlite"
	"github.com/cognicore/gloss/pkg/gloss/ingest"
)

func main() {
	var (
		source      = flag.String("source", "", "Source text file (.txt or .html); required when the document does not exist yet")
		docPath     = flag.String("doc", "annotated.json", "Path to the annotated document")
		configPath  = flag.String("config", "", "Optional YAML config file")
		failDB      = flag.String("failure-db", "", "Optional SQLite file recording batches that exhausted retries")
		initOnly    = flag.Bool("initialize-only", false, "Create the document and batch layout without calling the service")
		statusOnly  = flag.Bool("check-status-only", false, "Print progress and exit")
		upToBatch   = flag.Int("up-to-batch", 0, "Stop after this many batches")
		batchList   = flag.String("process-batches", "", "Comma-separated batch numbers to process")
		reprocess   = flag.String("reprocess-range", "", "Word range A-B to re-annotate")
		clearBatch  = flag.Int("clear-batch", 0, "Reset this batch to pending")
		clearRange  = flag.String("clear-range", "", "Word range A-B to reset to pending")
		concurrency = flag.Int("concurrency", 0, "Override concurrent service calls")
	)
	flag.Parse()

	modes := 0
	for _, active := range []bool{
		*initOnly, *statusOnly, *batchList != "", *upToBatch > 0,
		*reprocess != "", *clearBatch > 0, *clearRange != "",
	} {
		if active {
			modes++
		}
	}
	if modes > 1 {
		log.Fatal("choose at most one mode flag")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	cfg.Service.APIKey = os.Getenv("GLOSS_API_KEY")

	sourceText := ""
	if *source != "" {
		var err error
		sourceText, err = ingest.ReadSource(*source)
		if err != nil {
			log.Fatalf("source: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failures faillog.Log
	if *failDB != "" {
		var err error
		failures, err = faillogsqlite.Open(ctx, *failDB)
		if err != nil {
			log.Fatalf("failure db: %v", err)
		}
		defer failures.Close()
	}

	var template string
	if cfg.PromptTemplatePath != "" {
		data, err := os.ReadFile(cfg.PromptTemplatePath)
		if err != nil {
			log.Fatalf("prompt template: %v", err)
		}
		template = string(data)
	}

	needsClient := !*initOnly && !*statusOnly && *clearBatch == 0 && *clearRange == ""
	var client annotate.Client
	if needsClient {
		if cfg.Service.APIKey == "" {
			log.Fatal("GLOSS_API_KEY not set")
		}
		client = &llm.Client{
			BaseURL:    cfg.Service.BaseURL,
			APIKey:     cfg.Service.APIKey,
			Model:      cfg.Service.Model,
			HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		}
	}

	engine, err := gloss.New(gloss.Options{
		DocumentPath: *docPath,
		SourceText:   sourceText,
		Client:       client,
		Failures:     failures,
		Config:       cfg,
		Template:     template,
	})
	if err != nil {
		log.Fatalf("open document: %v", err)
	}

	switch {
	case *initOnly:
		if err := engine.Save(); err != nil {
			log.Fatalf("save: %v", err)
		}
		fmt.Printf("initialized %s: %d words, %d batches\n",
			*docPath, engine.Status().TotalWords, len(engine.Batches()))

	case *statusOnly:
		printStatus(engine.Status())

	case *reprocess != "":
		start, end := parseRange(*reprocess)
		if err := engine.Reprocess(ctx, start, end); err != nil {
			log.Fatalf("reprocess: %v", err)
		}
		fmt.Printf("reprocessed words %d-%d\n", start, end)

	case *clearBatch > 0:
		if err := engine.ClearBatch(*clearBatch); err != nil {
			log.Fatalf("clear batch: %v", err)
		}
		fmt.Printf("batch %d reset to pending\n", *clearBatch)

	case *clearRange != "":
		start, end := parseRange(*clearRange)
		if err := engine.ClearRange(start, end); err != nil {
			log.Fatalf("clear range: %v", err)
		}
		fmt.Printf("words %d-%d reset to pending\n", start, end)

	default:
		opts := gloss.RunOptions{UpToBatch: *upToBatch}
		if *batchList != "" {
			opts.Batches = parseBatchList(*batchList)
		}
		sum, err := engine.Run(ctx, opts)
		fmt.Printf("run %s: %d succeeded, %d failed, %d skipped\n",
			engine.RunID(), sum.Succeeded, sum.Failed, sum.Skipped)
		if err != nil {
			log.Fatalf("run: %v", err)
		}
	}
}

func printStatus(st gloss.Status) {
	fmt.Printf("words annotated: %d/%d\n", st.AnnotatedWords, st.TotalWords)
	fmt.Printf("batches done:    %d/%d\n", st.Processed(), len(st.Batches))
	for _, b := range st.Batches {
		state := "pending"
		if b.Processed {
			state = "done"
		}
		fmt.Printf("  batch %3d  words %4d-%-4d  %s  %s\n",
			b.Index, b.StartWord, b.EndWord, b.SegmentID, state)
	}
}

func parseRange(s string) (int, int) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		log.Fatalf("range %q must look like START-END", s)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		log.Fatalf("range %q must look like START-END", s)
	}
	return start, end
}

func parseBatchList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			log.Fatalf("bad batch number %q", part)
		}
		out = append(out, n)
	}
	return out
}
