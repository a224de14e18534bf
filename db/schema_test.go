package db

import (
	"os"
	"regexp"
	"strings"
	"testing"
)

// Tables the services touch with "SET updated_at = now()". A missing column
// here surfaces as a 42703 on the first write in production, so the schema
// is checked statically.
var tablesWithUpdatedAt = []string{
	"availability_days",
	"enrollments",
	"booking_idempotency_keys",
	"checkout_sessions",
	"reminder_jobs",
}

func TestUpdatedTablesDeclareUpdatedAt(t *testing.T) {
	schema, err := os.ReadFile("schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	for _, table := range tablesWithUpdatedAt {
		block := createTableBlock(t, string(schema), table)
		if !strings.Contains(block, "updated_at") {
			t.Errorf("table %s has no updated_at column but services write it", table)
		}
	}
}

func createTableBlock(t *testing.T, schema, table string) string {
	t.Helper()
	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + regexp.QuoteMeta(table) + ` \(.*?\);`)
	block := re.FindString(schema)
	if block == "" {
		t.Fatalf("table %s not found in schema.sql", table)
	}
	return block
}
