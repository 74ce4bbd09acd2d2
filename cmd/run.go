// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-unzip"
	"github.com/hashicorp/go-unzip/transport"
	"github.com/pkg/errors"
)

// Exit codes of the cli.
const (
	ExitSuccess = 0
	ExitPartial = 1
	ExitAborted = 2
)

// Globals are the parameters shared by all commands.
type Globals struct {
	Concurrency int              `short:"j" optional:"" default:"0" help:"Number of entries extracted in parallel. (default: number of CPUs)"`
	Exclude     []string         `short:"x" optional:"" help:"Exclude entries matching the gitignore style pattern. (repeatable)"`
	Include     []string         `short:"i" optional:"" help:"Only process entries matching the gitignore style pattern. (repeatable)"`
	Password    string           `short:"P" optional:"" env:"UNZIP_PASSWORD" help:"Password for encrypted entries."`
	ReadTimeout time.Duration    `optional:"" default:"1m" help:"Abort a remote read that receives no data for this long. (disable check: 0)"`
	Verbose     bool             `short:"v" optional:"" help:"Verbose logging."`
	Version     kong.VersionFlag `short:"V" optional:"" help:"Print release version information."`
}

// CLI are the cli parameters for the unzip binary
type CLI struct {
	Globals

	Extract ExtractCmd `cmd:"" help:"Extract a zip archive."`
	List    ListCmd    `cmd:"" help:"List the entries of a zip archive."`
}

// ExtractCmd extracts an archive.
type ExtractCmd struct {
	Archive           string `arg:"" name:"archive" help:"Path, http(s) url or s3 uri of the archive."`
	Destination       string `arg:"" name:"destination" default:"." help:"Output directory."`
	CreateDestination bool   `short:"c" help:"Create destination directory if it does not exist."`
	DenySymlinks      bool   `short:"D" help:"Deny symlink extraction."`
	FailFast          bool   `short:"f" help:"Stop at the first failed entry."`
	FollowSymlinks    bool   `short:"F" help:"[Dangerous!] Follow symlinks to directories during extraction."`
	KeepExisting      bool   `short:"k" help:"Do not overwrite existing files."`
	MaxFiles          int64  `optional:"" default:"100000" help:"Maximum files that are extracted before stop. (disable check: -1)"`
	MaxExtractionSize int64  `optional:"" default:"1073741824" help:"Maximum extraction size that allowed is (in bytes). (disable check: -1)"`
	MaxExtractionTime int64  `optional:"" default:"-1" help:"Maximum time that an extraction should take (in seconds). (disable check: -1)"`
	MaxInputSize      int64  `optional:"" default:"-1" help:"Maximum input size that allowed is (in bytes). (disable check: -1)"`
	Metrics           bool   `short:"M" optional:"" default:"false" help:"Print metrics to log after extraction."`
	NoAttributes      bool   `help:"Do not restore file modes and modification times."`
	Progress          bool   `short:"p" optional:"" help:"Show a progress bar."`
}

// ListCmd lists the entries of an archive.
type ListCmd struct {
	Archive string `arg:"" name:"archive" help:"Path, http(s) url or s3 uri of the archive."`
}

// Run the entrypoint into unzip as a cli tool
func Run(version, commit, date string) {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("goripunzip"),
		kong.Description("A concurrent zip extraction utility for local and remote archives"),
		kong.UsageOnError(),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s), commit %s, built at %s", filepath.Base(os.Args[0]), version, commit, date),
		},
	)

	code, err := 0, kctx.Run(&cli.Globals)
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		} else {
			code = ExitAborted
		}
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(code)
}

// exitError carries the exit code of a finished run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func (g *Globals) logger() *slog.Logger {
	logLevel := slog.LevelError
	if g.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// options returns the config options shared by all commands.
func (g *Globals) options(logger *slog.Logger) ([]unzip.ConfigOption, error) {
	opts := []unzip.ConfigOption{
		unzip.WithLogger(logger),
		unzip.WithConcurrency(g.Concurrency),
	}
	if g.Password != "" {
		opts = append(opts, unzip.WithPassword(g.Password))
	}
	if len(g.Include) > 0 || len(g.Exclude) > 0 {
		rules := append(unzip.IncludeRules(g.Include...), unzip.ExcludeRules(g.Exclude...)...)
		f, err := unzip.NewRuleFilter(rules, false, len(g.Include) == 0)
		if err != nil {
			return nil, errors.Wrap(err, "invalid filter pattern")
		}
		opts = append(opts, unzip.WithFilter(f))
	}
	return opts, nil
}

// Run extracts the archive.
func (c *ExtractCmd) Run(g *Globals) error {
	ctx := context.Background()
	logger := g.logger()

	if c.MaxExtractionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second*time.Duration(c.MaxExtractionTime))
		defer cancel()
	}

	opts, err := g.options(logger)
	if err != nil {
		return err
	}

	// setup metrics hook
	metricsToLog := func(ctx context.Context, td *unzip.TelemetryData) {
		if c.Metrics {
			logger.Info("extraction finished", "metrics", td)
		}
	}

	policy := unzip.CollectAll
	if c.FailFast {
		policy = unzip.FailFast
	}
	opts = append(opts,
		unzip.WithCreateDestination(c.CreateDestination),
		unzip.WithDenySymlinkExtraction(c.DenySymlinks),
		unzip.WithDropFileAttributes(c.NoAttributes),
		unzip.WithFailurePolicy(policy),
		unzip.WithInsecureTraverseSymlinks(c.FollowSymlinks),
		unzip.WithMaxExtractionSize(c.MaxExtractionSize),
		unzip.WithMaxFiles(c.MaxFiles),
		unzip.WithMaxInputSize(c.MaxInputSize),
		unzip.WithOverwrite(!c.KeepExisting),
		unzip.WithTelemetryHook(metricsToLog),
	)
	if c.Progress {
		opts = append(opts, unzip.WithProgressReporter(newBarReporter(os.Stderr, filepath.Base(c.Archive))))
	}

	src, closer, err := g.openSource(ctx, c.Archive, logger)
	if err != nil {
		return &exitError{code: ExitAborted, err: err}
	}
	defer closer.Close()

	res, err := unzip.Unpack(ctx, src, c.Destination, opts...)
	logger.Debug("extraction result", "result", res.String(), "duration", res.Duration)
	switch res.Status {
	case unzip.StatusSucceeded:
		return nil
	case unzip.StatusPartial:
		for _, f := range res.Failures {
			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f.Path, f.Err)
		}
		return &exitError{code: ExitPartial, err: errors.Errorf("%d of %d entries failed", len(res.Failures), len(res.Outcomes)-res.Skipped)}
	default:
		return &exitError{code: ExitAborted, err: err}
	}
}

// Run lists the archive.
func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	logger := g.logger()

	opts, err := g.options(logger)
	if err != nil {
		return err
	}
	src, closer, err := g.openSource(ctx, c.Archive, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := unzip.Open(ctx, src, opts...)
	if err != nil {
		return err
	}
	return printEntries(os.Stdout, a.List())
}

func printEntries(w io.Writer, entries []*unzip.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Length\tMethod\tSize\tModified\tCRC-32\tName\t")
	var total, compressed int64
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%08x\t%s\t\n",
			e.UncompressedSize, e.Method, e.CompressedSize, e.Modified.Format("2006-01-02 15:04"), e.CRC32, e.Name)
		total += e.UncompressedSize
		compressed += e.CompressedSize
	}
	fmt.Fprintf(tw, "%d\t\t%d\t\t\t%d files\t\n", total, compressed, len(entries))
	return tw.Flush()
}

// openSource opens a local file, an http(s) url or an s3 uri.
func (g *Globals) openSource(ctx context.Context, archive string, logger *slog.Logger) (unzip.Source, io.Closer, error) {
	switch {
	case strings.HasPrefix(archive, "http://") || strings.HasPrefix(archive, "https://"):
		f := transport.NewHTTPFetcher(archive, transport.WithLogger(logger), transport.WithReadTimeout(g.ReadTimeout))
		src, err := unzip.NewRemoteSource(ctx, archive, f)
		return src, io.NopCloser(nil), err
	case strings.HasPrefix(archive, "s3://"):
		f, err := transport.NewS3FetcherFromURI(ctx, archive)
		if err != nil {
			return nil, nil, err
		}
		src, err := unzip.NewRemoteSource(ctx, archive, f)
		return src, io.NopCloser(nil), err
	default:
		src, err := unzip.OpenFile(archive)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening archive failed")
		}
		return src, src, nil
	}
}
