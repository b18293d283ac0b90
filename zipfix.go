// Package zipfix repairs damaged ZIP archives and recovers the maximum
// possible data from them.
//
// The pipeline is analyze, patch, salvage, rebuild: the structural analyzer
// ([github.com/znuzhg/zip-fixer/scan]) parses the EOCD trailer and central
// directory of the damaged file, the patcher
// ([github.com/znuzhg/zip-fixer/patch]) fixes the known ZIP64 total-disks
// corruption in place, the best-effort extractor
// ([github.com/znuzhg/zip-fixer/salvage]) streams every recoverable entry to
// disk tolerating checksum failures and truncation, and the rebuilder
// ([github.com/znuzhg/zip-fixer/rebuild]) packages the recovered files into a
// fresh, structurally clean archive. Each stage is independently usable;
// Repair runs them all.
package zipfix

import (
	"context"
	"fmt"

	"github.com/znuzhg/zip-fixer/patch"
	"github.com/znuzhg/zip-fixer/rebuild"
	"github.com/znuzhg/zip-fixer/salvage"
	"github.com/znuzhg/zip-fixer/scan"
)

// RepairOptions customises Repair.
type RepairOptions struct {
	// WorkDir is where recovered files are written. Default to
	// DefaultExtractDir(DefaultWorkDir(name)).
	WorkDir string

	// Output is the path of the rebuilt archive. Default to
	// DefaultRebuiltName(name, DefaultWorkDir(name)).
	Output string

	// ExtractOptions are passed through to salvage.Extract.
	ExtractOptions []func(*salvage.Options)

	// RebuildOptions are passed through to rebuild.Rebuild.
	RebuildOptions []func(*rebuild.Options)
}

// RepairSummary is the combined outcome of the full pipeline.
type RepairSummary struct {
	// Report is the structural report the extraction ran against; when a
	// patch was applied this is the post-patch re-analysis.
	Report *scan.Report

	// Patch is the patch outcome, nil when the archive did not need one.
	Patch *patch.Result

	// PatchErr is the patch failure if any. A failed patch aborts only the
	// patch step; extraction still proceeds against the unpatched file.
	PatchErr error

	// Records are the per-entry recovery outcomes.
	Records []salvage.Record

	// Rebuild summarises the rebuilt archive's contents.
	Rebuild rebuild.Result

	// WorkDir and Output are the resolved locations.
	WorkDir string
	Output  string
}

// Recovered returns how many entries produced usable bytes.
func (s *RepairSummary) Recovered() (n int) {
	for _, rec := range s.Records {
		if rec.Status.Recovered() {
			n++
		}
	}
	return
}

// Repair runs the full pipeline against the named archive.
//
// The source file is mutated only by the patch step and only when the known
// ZIP64 corruption is detected; after a successful patch the archive is
// re-analyzed through a fresh handle before extraction. A missing EOCD or an
// unwritable destination is fatal; everything per-entry is reported on the
// summary instead.
func Repair(ctx context.Context, name string, optFns ...func(*RepairOptions)) (*RepairSummary, error) {
	opts := &RepairOptions{}
	for _, fn := range optFns {
		fn(opts)
	}

	workDir := DefaultWorkDir(name)
	if opts.WorkDir == "" {
		opts.WorkDir = DefaultExtractDir(workDir)
	}
	if opts.Output == "" {
		opts.Output = DefaultRebuiltName(name, workDir)
	}

	s := &RepairSummary{WorkDir: opts.WorkDir, Output: opts.Output}

	report, err := scan.AnalyzeFile(name)
	if err != nil {
		return nil, fmt.Errorf("analyze error: %w", err)
	}

	if report.NeedsZip64Patch {
		if s.Patch, s.PatchErr = applyPatch(report, name); s.PatchErr == nil {
			// the in-memory report predates the patch; re-validate the
			// file through a fresh handle before trusting it further.
			if report, err = scan.AnalyzeFile(name); err != nil {
				return nil, fmt.Errorf("re-analyze after patch error: %w", err)
			}
		}
	}

	s.Report = report

	if s.Records, err = salvage.ExtractFile(ctx, name, report, opts.WorkDir, opts.ExtractOptions...); err != nil {
		return s, fmt.Errorf("extract error: %w", err)
	}

	if s.Rebuild, err = rebuild.RebuildFile(ctx, opts.WorkDir, s.Records, opts.Output, opts.RebuildOptions...); err != nil {
		return s, fmt.Errorf("rebuild error: %w", err)
	}

	return s, nil
}

func applyPatch(report *scan.Report, name string) (*patch.Result, error) {
	p, err := patch.Plan(report)
	if err != nil {
		return nil, err
	}

	res, err := p.Apply(name)
	if err != nil {
		return &res, err
	}

	return &res, nil
}
