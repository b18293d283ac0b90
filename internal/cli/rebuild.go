package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/znuzhg/zip-fixer/internal"
	"github.com/znuzhg/zip-fixer/rebuild"
	"github.com/znuzhg/zip-fixer/scan"
)

// Rebuild extracts every recoverable entry and packages the recovered files
// into a freshly written, structurally clean archive. Unlike auto it never
// touches the source file.
type Rebuild struct {
	Dir    string `short:"d" long:"out-dir" description:"directory to extract recovered files into" required:"yes"`
	Output string `short:"o" long:"fixed-zip" description:"path of the rebuilt archive" required:"yes"`

	Args struct {
		File flags.Filename `positional-arg-name:"file" description:"the ZIP archive to rebuild" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Rebuild) Execute(args []string) error {
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

	records, err := extractWithProgress(ctx, name, report, c.Dir)
	if err != nil {
		return fmt.Errorf("extract error: %w", err)
	}

	summarize(records)

	res, err := rebuild.RebuildFile(ctx, c.Dir, records, c.Output)
	if err != nil {
		return fmt.Errorf("rebuild error: %w", err)
	}

	for _, s := range res.Skipped {
		log.Printf(`skipped "%s": %v`, s.Record.Entry.Name, s.Err)
	}
	log.Printf(`rebuilt archive "%s" with %d entries`, c.Output, len(res.Included))

	return nil
}
