package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"dronecraft.ai/internal/persistence/indexdb"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/world"
)

// fanoutTickLogger writes to every non-nil logger and joins their errors.
type fanoutTickLogger []scheduler.TickLogger

func (f fanoutTickLogger) WriteTick(e scheduler.TickLogEntry) error {
	var errs []error
	for _, l := range f {
		if l != nil {
			errs = append(errs, l.WriteTick(e))
		}
	}
	return errors.Join(errs...)
}

type fanoutAuditLogger []scheduler.AuditLogger

func (f fanoutAuditLogger) WriteAudit(e world.AuditEntry) error {
	var errs []error
	for _, l := range f {
		if l != nil {
			errs = append(errs, l.WriteAudit(e))
		}
	}
	return errors.Join(errs...)
}

// idxOrNil avoids storing a typed nil pointer in an interface slot.
func idxOrNil(idx *indexdb.SQLiteIndex) interface {
	scheduler.TickLogger
	scheduler.AuditLogger
} {
	if idx == nil {
		return nil
	}
	return idx
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}
