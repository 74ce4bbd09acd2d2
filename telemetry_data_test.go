// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-unzip"
)

// TestDataString tests the String method of the data struct
func TestDataString(t *testing.T) {
	m := unzip.TelemetryData{
		DuplicateEntries:    1,
		Entries:             10,
		ExtractionDuration:  time.Duration(5 * time.Millisecond),
		ExtractionSize:      1024,
		ExtractedFiles:      5,
		ExtractedSymlinks:   2,
		ExtractedDirs:       1,
		ExtractionErrors:    1,
		FetchedBytes:        512,
		Fetches:             10,
		LastExtractionError: fmt.Errorf("example error"),
		InputSize:           2048,
		PatternMismatches:   3,
		UnsupportedFiles:    0,
	}

	expected := `{"last_extraction_error":"example error","duplicate_entries":1,"entries":10,"extracted_dirs":1,"extraction_duration":5000000,"extraction_errors":1,"extracted_files":5,"extraction_size":1024,"extracted_symlinks":2,"fetched_bytes":512,"fetches":10,"input_size":2048,"pattern_mismatches":3,"unsupported_files":0,"last_unsupported_file":""}`
	if m.String() != expected {
		t.Errorf("Expected '%s', but got '%s'", expected, m.String())
	}
}

// TestDataStringWithoutError tests that a missing error is rendered empty
func TestDataStringWithoutError(t *testing.T) {
	m := unzip.TelemetryData{}
	expected := `{"last_extraction_error":"","duplicate_entries":0,"entries":0,"extracted_dirs":0,"extraction_duration":0,"extraction_errors":0,"extracted_files":0,"extraction_size":0,"extracted_symlinks":0,"fetched_bytes":0,"fetches":0,"input_size":0,"pattern_mismatches":0,"unsupported_files":0,"last_unsupported_file":""}`
	if m.String() != expected {
		t.Errorf("Expected '%s', but got '%s'", expected, m.String())
	}
}
