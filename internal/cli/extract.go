package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	zipfix "github.com/znuzhg/zip-fixer"
	"github.com/znuzhg/zip-fixer/internal"
	"github.com/znuzhg/zip-fixer/salvage"
	"github.com/znuzhg/zip-fixer/scan"
	"golang.org/x/time/rate"
)

// Extract runs the analyzer and the best-effort extractor.
type Extract struct {
	Dir string `short:"d" long:"out-dir" description:"directory to extract recovered files into; default <stem>_extracted next to the archive"`

	Args struct {
		File flags.Filename `positional-arg-name:"file" description:"the ZIP archive to extract" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Extract) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	name := string(c.Args.File)
	log.SetPrefix(internal.Prefix(name))

	report, err := scan.AnalyzeFile(name)
	if err != nil {
		return fmt.Errorf("analyze error: %w", err)
	}

	dir := c.Dir
	if dir == "" {
		stem, _ := zipfix.StemAndExt(name)
		dir = filepath.Join(filepath.Dir(name), stem+"_extracted")
	}

	records, err := extractWithProgress(ctx, name, report, dir)
	if err != nil {
		return fmt.Errorf("extract error: %w", err)
	}

	summarize(records)
	return nil
}

// extractWithProgress runs salvage.ExtractFile with a progress bar and
// throttled per-entry logging shared by the extract and auto commands.
func extractWithProgress(ctx context.Context, name string, report *scan.Report, dir string) ([]salvage.Record, error) {
	bar := internal.DefaultBytes(totalUncompressed(report), "extracting")
	defer bar.Close()

	var done int
	sometimes := rate.Sometimes{Interval: 5 * time.Second}

	return salvage.ExtractFile(ctx, name, report, dir, func(opts *salvage.Options) {
		opts.ProgressBar = bar
		opts.OnRecord = func(rec salvage.Record) {
			done++
			sometimes.Do(func() {
				log.Printf(`[%d/%d] done recovering "%s" (%s)`, done, len(report.Entries), rec.Entry.Name, rec.Status)
			})
		}
	})
}
