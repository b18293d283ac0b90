package cli

import (
	"fmt"
	"log"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/znuzhg/zip-fixer/internal"
	"github.com/znuzhg/zip-fixer/scan"
)

// Check runs the structural analyzer only and prints the report.
type Check struct {
	Args struct {
		File flags.Filename `positional-arg-name:"file" description:"the ZIP archive to inspect" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Check) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	name := string(c.Args.File)
	log.SetPrefix(internal.Prefix(name))

	report, err := scan.AnalyzeFile(name)
	if err != nil {
		return fmt.Errorf("analyze error: %w", err)
	}

	printReport(report)
	return nil
}
