package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	errs "github.com/unheard/unheard/internal/errors"
)

// AttioDir holds imported CRM records, one subdirectory per object type.
const AttioDir = "attio"

// AttioObjectTypes are the accepted CRM object types.
var AttioObjectTypes = []string{"company", "person", "list_entry"}

// AttioRecord is one CRM record to import.
type AttioRecord struct {
	ObjectType string `json:"object_type"`
	RecordID   string `json:"record_id"`
	Filename   string `json:"filename"` // Without extension.
	JSON       string `json:"json_content"`
}

// Path returns the record's path relative to the project root.
func (r *AttioRecord) Path() string {
	return fmt.Sprintf("%s/%s/%s.json", AttioDir, r.ObjectType, r.Filename)
}

// Validate checks the object type, file name and payload.
func (r *AttioRecord) Validate() *errs.Error {
	if !slices.Contains(AttioObjectTypes, r.ObjectType) {
		return errs.Invalid("invalid object type: %s", r.ObjectType)
	}
	if err := checkName(r.Filename); err != nil {
		return err
	}
	if strings.TrimSpace(r.JSON) == "" {
		return errs.Invalid("JSON content cannot be empty")
	}
	if !json.Valid([]byte(r.JSON)) {
		return errs.Invalid("JSON content is not valid JSON")
	}
	return nil
}

// SaveAttioRecord writes one record as attio/<type>/<name>.json and commits
// it. The relative path is returned even if the commit fails.
func (in *Ingester) SaveAttioRecord(ctx context.Context, root string, rec AttioRecord) (string, error) {
	slog.InfoContext(ctx, "ingest: saving Attio import", "type", rec.ObjectType, "id", rec.RecordID, "file", rec.Filename)
	if err := rec.Validate(); err != nil {
		return "", err
	}
	rel := rec.Path()
	if err := writeArtifact(ctx, root, rel, []byte(rec.JSON)); err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Import Attio %s: %s", rec.ObjectType, rec.Filename)
	if _, err := in.commit(ctx, root, []string{rel}, msg); err != nil {
		logUncommitted(ctx, "Attio import", root, err)
	}
	return rel, nil
}

// SaveAttioBatch validates every record before writing any, writes them all
// and records them in a single commit. The relative paths are returned even
// if the commit fails.
func (in *Ingester) SaveAttioBatch(ctx context.Context, root string, recs []AttioRecord) ([]string, error) {
	slog.InfoContext(ctx, "ingest: batch saving Attio imports", "count", len(recs))
	if len(recs) == 0 {
		return nil, errs.Invalid("No imports provided")
	}
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return nil, errs.Invalid("Entry %d: %s", i, err.Message()).WithDetail("index", i)
		}
	}

	paths := make([]string, 0, len(recs))
	for i := range recs {
		rel := recs[i].Path()
		if err := writeArtifact(ctx, root, rel, []byte(recs[i].JSON)); err != nil {
			return nil, err
		}
		paths = append(paths, rel)
	}

	msg := fmt.Sprintf("Import %d Attio records", len(recs))
	if _, err := in.commit(ctx, root, paths, msg); err != nil {
		logUncommitted(ctx, "Attio imports", root, err)
	}
	return paths, nil
}
