package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Typed task params and results. Task params/result rows are stored as
// JSONB; handlers decode them into these structs at the boundary and
// never pass untyped maps further in.

// CrawlPendingParams configures a crawl_pending task. A zero SourceID
// means all eligible sources.
type CrawlPendingParams struct {
	SourceID       string `json:"source_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	LimitPerSource int    `json:"limit_per_source,omitempty"`
}

// RetryFailedParams configures a retry_failed task.
type RetryFailedParams struct {
	SourceID string `json:"source_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// CrawlResult is the terminal result payload of a crawl batch task.
type CrawlResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ReportGenerateParams configures a report_generate task.
type ReportGenerateParams struct {
	ReportID string `json:"report_id"`
}

// DecodeParams decodes a JSONB params payload into the typed struct dst.
// Unknown fields are rejected so malformed params fail at create time.
func DecodeParams(params JSONBMap, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// EncodeResult converts a typed result struct into a JSONB payload for
// storage on the task row.
func EncodeResult(result any) (JSONBMap, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var m JSONBMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return m, nil
}
