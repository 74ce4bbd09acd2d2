// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"runtime"
)

// ConfigOption is a function pointer to implement the option pattern
type ConfigOption func(*Config)

// FailurePolicy decides how the engine reacts to a failed entry.
type FailurePolicy int

const (
	// CollectAll isolates failures: the remaining entries are still extracted
	// and every failure is reported in the [RunResult].
	CollectAll FailurePolicy = iota

	// FailFast cancels all outstanding work after the first failure.
	FailFast
)

// String returns the name of the policy.
func (p FailurePolicy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "collect-all"
}

// Config provides a configuration struct and options to adjust the configuration.
//
// The configuration struct holds all configuration options for the extraction process.
// The configuration options can be adjusted using the option pattern style.
//
// The default configuration prevents path traversal and symlink attacks and
// limits the number of files and the extracted size.
type Config struct {
	// concurrency is the number of workers. 0 selects runtime.GOMAXPROCS.
	concurrency int

	// create destination directory if it does not exist
	createDestination bool

	// customCreateDirMode is the file mode for created directories, that are not defined in the archive (respecting umask)
	customCreateDirMode fs.FileMode

	// customDecompressFileMode is the file mode for extracted files without mode information (respecting umask)
	customDecompressFileMode fs.FileMode

	// denySymlinkExtraction offers the option to enable/disable the extraction of symlinks
	denySymlinkExtraction bool

	// dropFileAttributes is a flag drop the file attributes of the extracted files
	dropFileAttributes bool

	// failurePolicy decides if a failed entry cancels the run
	failurePolicy FailurePolicy

	// filter selects the entries to extract
	filter Filter

	// logger stream for extraction
	logger logger

	// maxExtractionSize is the maximum size of all files after decompression.
	// Set value to -1 to disable the check.
	maxExtractionSize int64

	// maxFiles is the maximum of files (including folder and symlinks) in an archive.
	// Set value to -1 to disable the check.
	maxFiles int64

	// maxInputSize is the maximum size of the archive.
	// Set value to -1 to disable the check.
	maxInputSize int64

	// Define if files should be overwritten in the destination
	overwrite bool

	// password for encrypted entries
	password []byte

	// patterns is a list of file patterns to match files to extract
	patterns []string

	// progressReporter is notified about the extraction progress
	progressReporter ProgressReporter

	// singleThreaded forces a single worker
	singleThreaded bool

	// target is the filesystem the archive is extracted to
	target Target

	// telemetryHook is a function to consume telemetry data after finished extraction
	// Important: do not adjust this value after extraction started
	telemetryHook TelemetryHook

	// traverseSymlinks traverses symlinks to directories during extraction
	traverseSymlinks bool
}

// CheckMaxFiles checks if counter exceeds the configured maximum. If the maximum is exceeded,
// a [ErrMaxFilesExceeded] error is returned.
func (c *Config) CheckMaxFiles(counter int64) error {

	// check if disabled
	if c.MaxFiles() == -1 {
		return nil
	}

	// check value
	if counter > c.MaxFiles() {
		return ErrMaxFilesExceeded
	}
	return nil
}

// CheckExtractionSize checks if fileSize exceeds configured maximum. If the maximum is exceeded,
// a [ErrMaxExtractionSizeExceeded] error is returned.
func (c *Config) CheckExtractionSize(fileSize int64) error {

	// check if disabled
	if c.MaxExtractionSize() == -1 {
		return nil
	}

	// check value
	if fileSize > c.MaxExtractionSize() {
		return ErrMaxExtractionSizeExceeded
	}
	return nil
}

// CheckInputSize checks if size exceeds the configured maximum input size.
func (c *Config) CheckInputSize(size int64) error {
	if c.MaxInputSize() == -1 {
		return nil
	}
	if size > c.MaxInputSize() {
		return ErrMaxInputSizeExceeded
	}
	return nil
}

// Concurrency returns the effective number of workers.
func (c *Config) Concurrency() int {
	if c.singleThreaded {
		return 1
	}
	if c.concurrency > 0 {
		return c.concurrency
	}
	return runtime.GOMAXPROCS(0)
}

// CreateDestination returns true if the destination directory should be
// created if it does not exist.
func (c *Config) CreateDestination() bool {
	return c.createDestination
}

// CustomCreateDirMode returns the file mode for created directories,
// that are not defined in the archive. (respecting umask)
func (c *Config) CustomCreateDirMode() fs.FileMode {
	return c.customCreateDirMode
}

// CustomDecompressFileMode returns the file mode for extracted files without
// mode information. (respecting umask)
func (c *Config) CustomDecompressFileMode() fs.FileMode {
	return c.customDecompressFileMode
}

// DenySymlinkExtraction returns true if symlinks are NOT allowed.
func (c *Config) DenySymlinkExtraction() bool {
	return c.denySymlinkExtraction
}

// DropFileAttributes returns true if the file attributes should be dropped.
func (c *Config) DropFileAttributes() bool {
	return c.dropFileAttributes
}

// FailurePolicy returns the configured [FailurePolicy].
func (c *Config) FailurePolicy() FailurePolicy {
	return c.failurePolicy
}

// Filter returns the entry filter, combined with the configured patterns.
func (c *Config) Filter() Filter {
	f := c.filter
	if f == nil {
		f = MatchAll
	}
	if len(c.patterns) > 0 {
		return And(f, PatternFilter(c.patterns))
	}
	return f
}

// Logger returns the logger.
func (c *Config) Logger() logger {
	return c.logger
}

// MaxExtractionSize returns the maximum size over all decompressed and extracted files.
func (c *Config) MaxExtractionSize() int64 {
	return c.maxExtractionSize
}

// MaxFiles returns the maximum of files (including folder and symlinks) in an archive.
func (c *Config) MaxFiles() int64 {
	return c.maxFiles
}

// MaxInputSize returns the maximum size of the input.
func (c *Config) MaxInputSize() int64 {
	return c.maxInputSize
}

// Overwrite returns true if files should be overwritten in the destination.
func (c *Config) Overwrite() bool {
	return c.overwrite
}

// Password returns the password for encrypted entries.
func (c *Config) Password() []byte {
	return c.password
}

// Patterns returns a list of patterns to match files to extract.
// Patterns are matched using [path.Match].
func (c *Config) Patterns() []string {
	return c.patterns
}

// ProgressReporter returns the progress reporter.
func (c *Config) ProgressReporter() ProgressReporter {
	if c.progressReporter == nil {
		return NoopProgressReporter{}
	}
	return c.progressReporter
}

// SingleThreaded returns true if a single worker is forced.
func (c *Config) SingleThreaded() bool {
	return c.singleThreaded
}

// Target returns the filesystem the archive is extracted to.
func (c *Config) Target() Target {
	return c.target
}

// TelemetryHook returns the telemetry hook.
func (c *Config) TelemetryHook() TelemetryHook {
	if c.telemetryHook == nil {
		return defaultTelemetryHook
	}
	return c.telemetryHook
}

// TraverseSymlinks returns true if symlinks should be traversed during extraction.
func (c *Config) TraverseSymlinks() bool {
	return c.traverseSymlinks
}

const (
	defaultConcurrency              = 0             // runtime.GOMAXPROCS
	defaultCreateDestination        = false         // don't create destination directory
	defaultCustomCreateDirMode      = 0750          // default directory permissions rwxr-x---
	defaultCustomDecompressFileMode = 0640          // default decompression permissions rw-r-----
	defaultDenySymlinkExtraction    = false         // allow symlink extraction
	defaultDropFileAttributes       = false         // restore file attributes from archive
	defaultFailurePolicy            = CollectAll    // isolate failed entries
	defaultMaxFiles                 = 100000        // 100k files
	defaultMaxExtractionSize        = 1 << (10 * 3) // 1 Gb
	defaultMaxInputSize             = -1            // remote archives are read partially
	defaultOverwrite                = true          // overwrite existing files
	defaultSingleThreaded           = false         // use a worker pool
	defaultTraverseSymlinks         = false         // don't traverse symlinks
)

var (
	// slog to discard
	defaultLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	// no operation telemetry hook
	defaultTelemetryHook = func(ctx context.Context, d *TelemetryData) {
		// noop
	}
)

// NewConfig is a generator option that takes opts as adjustments of the
// default configuration in an option pattern style.
func NewConfig(opts ...ConfigOption) *Config {

	// setup default values
	config := &Config{
		concurrency:              defaultConcurrency,
		createDestination:        defaultCreateDestination,
		customCreateDirMode:      defaultCustomCreateDirMode,
		customDecompressFileMode: defaultCustomDecompressFileMode,
		denySymlinkExtraction:    defaultDenySymlinkExtraction,
		dropFileAttributes:       defaultDropFileAttributes,
		failurePolicy:            defaultFailurePolicy,
		filter:                   MatchAll,
		logger:                   defaultLogger,
		maxFiles:                 defaultMaxFiles,
		maxExtractionSize:        defaultMaxExtractionSize,
		maxInputSize:             defaultMaxInputSize,
		overwrite:                defaultOverwrite,
		progressReporter:         NoopProgressReporter{},
		singleThreaded:           defaultSingleThreaded,
		telemetryHook:            defaultTelemetryHook,
		traverseSymlinks:         defaultTraverseSymlinks,
	}

	// Loop through each option
	for _, opt := range opts {
		opt(config)
	}

	if config.target == nil {
		config.target = NewTargetDisk()
	}

	return config
}

// WithConcurrency options pattern function to set the number of workers.
// Values < 1 select runtime.GOMAXPROCS.
func WithConcurrency(n int) ConfigOption {
	return func(c *Config) {
		c.concurrency = n
	}
}

// WithCreateDestination options pattern function to create
// destination directory if it does not exist.
func WithCreateDestination(create bool) ConfigOption {
	return func(c *Config) {
		c.createDestination = create
	}
}

// WithCustomCreateDirMode options pattern function to set the file mode
// for created directories, that are not defined in the archive. (respecting umask)
func WithCustomCreateDirMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) {
		c.customCreateDirMode = mode
	}
}

// WithCustomDecompressFileMode options pattern function to set the file mode for
// extracted files without mode information. (respecting umask)
func WithCustomDecompressFileMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) {
		c.customDecompressFileMode = mode
	}
}

// WithDenySymlinkExtraction options pattern function to deny symlink extraction.
func WithDenySymlinkExtraction(deny bool) ConfigOption {
	return func(c *Config) {
		c.denySymlinkExtraction = deny
	}
}

// WithDropFileAttributes options pattern function to drop the
// file attributes of the extracted files.
func WithDropFileAttributes(drop bool) ConfigOption {
	return func(c *Config) {
		c.dropFileAttributes = drop
	}
}

// WithFailurePolicy options pattern function to set the [FailurePolicy].
func WithFailurePolicy(p FailurePolicy) ConfigOption {
	return func(c *Config) {
		c.failurePolicy = p
	}
}

// WithFilter options pattern function to set the entry [Filter].
func WithFilter(f Filter) ConfigOption {
	return func(c *Config) {
		if f != nil {
			c.filter = f
		}
	}
}

// WithInsecureTraverseSymlinks options pattern function to traverse symlinks during extraction.
func WithInsecureTraverseSymlinks(traverse bool) ConfigOption {
	return func(c *Config) {
		c.traverseSymlinks = traverse
	}
}

// WithLogger options pattern function to set a custom logger.
func WithLogger(logger logger) ConfigOption {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithMaxExtractionSize options pattern function to set maximum size over all decompressed
// and extracted files. (-1 to disable check)
func WithMaxExtractionSize(maxExtractionSize int64) ConfigOption {
	return func(c *Config) {
		c.maxExtractionSize = maxExtractionSize
	}
}

// WithMaxFiles options pattern function to set maximum number of extracted, files, directories
// and symlinks during the extraction. (-1 to disable check)
func WithMaxFiles(maxFiles int64) ConfigOption {
	return func(c *Config) {
		c.maxFiles = maxFiles
	}
}

// WithMaxInputSize options pattern function to set the maximum archive size. (-1 to disable check)
func WithMaxInputSize(maxInputSize int64) ConfigOption {
	return func(c *Config) {
		c.maxInputSize = maxInputSize
	}
}

// WithOverwrite options pattern function specify if files should be overwritten in the destination.
func WithOverwrite(enable bool) ConfigOption {
	return func(c *Config) {
		c.overwrite = enable
	}
}

// WithPassword options pattern function to set the password for encrypted entries.
func WithPassword(password string) ConfigOption {
	return func(c *Config) {
		c.password = []byte(password)
	}
}

// WithPatterns options pattern function to set filepath pattern, that files need to match to be extracted.
// Patterns are matched using [path.Match].
func WithPatterns(pattern ...string) ConfigOption {
	return func(c *Config) {
		c.patterns = append(c.patterns, pattern...)
	}
}

// WithProgressReporter options pattern function to set a [ProgressReporter].
func WithProgressReporter(r ProgressReporter) ConfigOption {
	return func(c *Config) {
		c.progressReporter = r
	}
}

// WithSingleThreaded options pattern function to force a single worker.
func WithSingleThreaded(single bool) ConfigOption {
	return func(c *Config) {
		c.singleThreaded = single
	}
}

// WithTarget options pattern function to set the [Target] filesystem.
func WithTarget(t Target) ConfigOption {
	return func(c *Config) {
		c.target = t
	}
}

// WithTelemetryHook options pattern function to set a [TelemetryHook], which is called after extraction.
func WithTelemetryHook(hook TelemetryHook) ConfigOption {
	return func(c *Config) {
		c.telemetryHook = hook
	}
}
