// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package unzip extracts zip archives concurrently from local files or from
// remote archives that are read through byte range requests.
//
// [Open] reads the central directory of a [Source] with a minimal number of
// range reads. [Archive.Extract] then extracts the entries accepted by the
// configured [Filter] with a bounded worker pool. Every entry is streamed
// from its local header through decryption and decompression into the
// [Target] filesystem while the CRC-32 is computed and verified.
//
// Configuration is done using the [Config], which is created with [NewConfig]
// and adjusted with [ConfigOption] functions. Per entry failures are
// isolated by default ([CollectAll]) and reported in the [RunResult];
// [FailFast] cancels the remaining work after the first failure.
// Progress is reported to a [ProgressReporter] and a [TelemetryHook]
// receives [TelemetryData] after the extraction finished.
//
// Remote sources are built with [NewRemoteSource] from a [RangeFetcher]; the
// transport package provides fetchers for HTTP and S3.
package unzip
