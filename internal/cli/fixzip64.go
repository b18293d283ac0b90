package cli

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/znuzhg/zip-fixer/internal"
	"github.com/znuzhg/zip-fixer/patch"
	"github.com/znuzhg/zip-fixer/scan"
)

// FixZip64 runs the analyzer and applies (or simulates) the ZIP64
// total-disks patch.
type FixZip64 struct {
	DryRun bool `long:"dry-run" description:"report what would change without writing"`

	Args struct {
		File flags.Filename `positional-arg-name:"file" description:"the ZIP archive to patch in place" required:"yes"`
	} `positional-args:"yes"`
}

func (c *FixZip64) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	name := string(c.Args.File)
	log.SetPrefix(internal.Prefix(name))

	report, err := scan.AnalyzeFile(name)
	if err != nil {
		return fmt.Errorf("analyze error: %w", err)
	}

	p, err := patch.Plan(report)
	switch {
	case errors.Is(err, patch.ErrNotNeeded):
		if report.Locator != nil {
			log.Printf("ZIP64 locator total-disks field is %d; nothing to patch", report.Locator.TotalDisks)
		} else {
			log.Printf("no ZIP64 locator found; nothing to patch")
		}
		return nil
	case err != nil:
		return err
	}

	var res patch.Result
	if c.DryRun {
		res, err = p.DryRun(name)
	} else {
		res, err = p.Apply(name)
	}
	if err != nil {
		return fmt.Errorf("patch error (re-run check and try again): %w", err)
	}

	if res.DryRun {
		log.Printf("dry run: would patch total-disks field at 0x%x from %d to %d", res.Offset, res.Old, res.New)
	} else {
		log.Printf("patched total-disks field at 0x%x from %d to %d", res.Offset, res.Old, res.New)
	}

	return nil
}
