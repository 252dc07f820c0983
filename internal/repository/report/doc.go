// Package report writes deployment reports to disk.
//
// The FileRepository stores a finished Report as YAML so CI jobs can archive
// what was shipped where. Reports are output only; no run reads them back.
package report
