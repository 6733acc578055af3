package model

import "github.com/dhcgn/ost-export/source"

// Job is a single mail record scheduled for conversion.
type Job struct {
	Seq        uint64
	Folder     string
	FolderPath string
	// OutputName is the sanitized folder name shared by every job of the
	// folder; it names the mailbox file or the message directory.
	OutputName string
	Index      int
	Record     source.Record
}

// Envelope wraps a built document alongside the job it came from. Fallback is
// set when the builder substituted the minimal error document.
type Envelope struct {
	Job      Job
	Document *Document
	Fallback bool
	// RecordID names the output file when the subject is unusable.
	RecordID string
}
