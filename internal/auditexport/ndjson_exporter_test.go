package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
)

func TestNDJSONExporterWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewNDJSONExporter(&buf)

	occurred := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	events := []domain.AuditEvent{
		{
			EventID:         1,
			OccurredAt:      occurred,
			Actor:           "user:ana@sunpath.example",
			Action:          "transition.commit",
			ResourceType:    "pipeline_entry",
			ResourceID:      "entry-1",
			RequestID:       "req-1",
			IP:              net.ParseIP("10.0.0.8"),
			UserAgent:       "sunpathctl/1.0",
			Payload:         domain.Metadata{"tenant_id": "tnt-1", "to_stage": "qualified"},
			IntegritySHA256: "abc123",
		},
		{
			EventID:      2,
			OccurredAt:   occurred.Add(time.Minute),
			Actor:        "user:bo@sunpath.example",
			Action:       "approval.approved",
			ResourceType: "approval",
			ResourceID:   "apr-1",
		},
	}

	for _, ev := range events {
		if err := exporter.Export(context.Background(), ev); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first["event_id"] != float64(1) {
		t.Fatalf("event_id = %v, want 1", first["event_id"])
	}
	if first["occurred_at"] != "2026-03-14T09:30:00Z" {
		t.Fatalf("occurred_at = %v", first["occurred_at"])
	}
	if first["ip"] != "10.0.0.8" {
		t.Fatalf("ip = %v", first["ip"])
	}
	payload, ok := first["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", first["payload"])
	}
	if payload["tenant_id"] != "tnt-1" {
		t.Fatalf("payload tenant_id = %v", payload["tenant_id"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line: %v", err)
	}
	if _, present := second["ip"]; present {
		t.Fatalf("empty ip should be omitted, got %v", second["ip"])
	}
	if _, present := second["request_id"]; present {
		t.Fatalf("empty request_id should be omitted, got %v", second["request_id"])
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}, wantErr: false},
		{name: "ndjson http", cfg: Config{Format: "ndjson", Destination: "http"}, wantErr: false},
		{name: "mixed case", cfg: Config{Format: "NDJSON", Destination: "HTTP"}, wantErr: false},
		{name: "unknown format", cfg: Config{Format: "parquet"}, wantErr: true},
		{name: "unknown destination", cfg: Config{Destination: "s3"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
