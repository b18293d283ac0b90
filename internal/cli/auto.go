package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	zipfix "github.com/znuzhg/zip-fixer"
	"github.com/znuzhg/zip-fixer/internal"
	"github.com/znuzhg/zip-fixer/salvage"
	"golang.org/x/time/rate"
)

// Auto runs the full repair pipeline: check, ZIP64 patch when flagged,
// best-effort extraction, and rebuild.
type Auto struct {
	Dir    string `short:"d" long:"out-dir" description:"working directory for recovered files; default <stem>_work next to the archive"`
	Output string `short:"o" long:"fixed-zip" description:"path of the rebuilt archive; default <stem>.repacked.zip in the working directory"`

	Args struct {
		File flags.Filename `positional-arg-name:"file" description:"the ZIP archive to repair" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Auto) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	name := string(c.Args.File)
	log.SetPrefix(internal.Prefix(name))

	var done int
	sometimes := rate.Sometimes{Interval: 5 * time.Second}

	s, err := zipfix.Repair(ctx, name, func(opts *zipfix.RepairOptions) {
		if c.Dir != "" {
			opts.WorkDir = zipfix.DefaultExtractDir(c.Dir)
			opts.Output = zipfix.DefaultRebuiltName(name, c.Dir)
		}
		if c.Output != "" {
			opts.Output = c.Output
		}

		opts.ExtractOptions = []func(*salvage.Options){func(o *salvage.Options) {
			o.OnRecord = func(rec salvage.Record) {
				done++
				sometimes.Do(func() {
					log.Printf(`[%d] done recovering "%s" (%s)`, done, rec.Entry.Name, rec.Status)
				})
			}
		}}
	})
	if err != nil {
		return err
	}

	switch {
	case s.PatchErr != nil:
		log.Printf("ZIP64 patch failed, extraction ran against the unpatched file (re-run check): %v", s.PatchErr)
	case s.Patch != nil:
		log.Printf("patched ZIP64 total-disks field at 0x%x from %d to %d", s.Patch.Offset, s.Patch.Old, s.Patch.New)
	default:
		log.Printf("no ZIP64 patch needed")
	}

	summarize(s.Records)

	for _, sk := range s.Rebuild.Skipped {
		log.Printf(`skipped "%s": %v`, sk.Record.Entry.Name, sk.Err)
	}
	log.Printf(`rebuilt archive "%s" with %d entries (recovered files under "%s")`,
		s.Output, len(s.Rebuild.Included), s.WorkDir)

	return nil
}
