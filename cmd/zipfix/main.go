package main

import (
	"log"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/znuzhg/zip-fixer/internal/cli"
)

var opts struct {
	Check    cli.Check    `command:"check" description:"analyze the archive structure and print a report"`
	FixZip64 cli.FixZip64 `command:"fixzip64" description:"patch the ZIP64 locator total-disks field in place"`
	Extract  cli.Extract  `command:"extract" alias:"x" description:"extract every recoverable entry, tolerating CRC and truncation failures"`
	Rebuild  cli.Rebuild  `command:"rebuild" description:"extract then package the recovered files into a clean archive"`
	Auto     cli.Auto     `command:"auto" description:"full pipeline: check, ZIP64 fix, best-effort extract, rebuild"`
}

func main() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)

	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
