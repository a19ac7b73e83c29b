package canhoto

import "fmt"

const backupVersion = 1

// Backup is the export/import document: every record, field for field,
// under a versioned envelope.
type Backup struct {
	Version    int        `json:"version"`
	ExportedAt string     `json:"exportedAt"`
	Items      []*Canhoto `json:"items"`
}

// validate rejects documents whose top-level shape is wrong before any
// record is written. An empty items sequence is a legal backup; a missing
// one is not.
func (b *Backup) validate() error {
	if b == nil {
		return fmt.Errorf("%w: no document", ErrBadBackup)
	}
	if b.Version != backupVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadBackup, b.Version)
	}
	if b.Items == nil {
		return fmt.Errorf("%w: missing items", ErrBadBackup)
	}
	for _, c := range b.Items {
		if c == nil || !c.Valid() {
			return fmt.Errorf("%w: invalid item", ErrBadBackup)
		}
	}
	return nil
}
