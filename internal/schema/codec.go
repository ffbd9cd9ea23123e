package schema

import (
	"encoding/json"
	"fmt"
)

// Wire format: one flat JSON object per record, envelope keys alongside
// business keys, matching the rows the remote relational store serves. The
// local `synced` flag never travels; it is local bookkeeping.

// EncodeRecord flattens a record into its wire JSON object.
func EncodeRecord(rec Record) (json.RawMessage, error) {
	if rec.Fields == nil {
		return nil, fmt.Errorf("encode %s: record has no fields", rec.ID)
	}

	envJSON, err := json.Marshal(rec.Envelope)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(envJSON, &merged); err != nil {
		return nil, fmt.Errorf("flatten envelope: %w", err)
	}
	fieldKeys := map[string]json.RawMessage{}
	if err := json.Unmarshal(fieldsJSON, &fieldKeys); err != nil {
		return nil, fmt.Errorf("flatten fields: %w", err)
	}
	for k, v := range fieldKeys {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}

// DecodeRecord parses a flat wire object into a typed record for table.
// Unknown keys are ignored; missing envelope timestamps decode to zero
// times, which the conflict resolver treats as "remote authoritative".
func DecodeRecord(table string, data []byte) (Record, error) {
	t, err := Lookup(table)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec.Envelope); err != nil {
		return Record{}, fmt.Errorf("decode %s envelope: %w", table, err)
	}

	fields := t.NewFields()
	if err := json.Unmarshal(data, fields); err != nil {
		return Record{}, fmt.Errorf("decode %s fields: %w", table, err)
	}
	rec.Fields = fields

	if rec.ID == "" {
		return Record{}, fmt.Errorf("decode %s: record without id", table)
	}
	return rec, nil
}
