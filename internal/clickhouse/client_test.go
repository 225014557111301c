package clickhouse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaTargetsDatabase(t *testing.T) {
	ddl := schema("analytics")

	assert.Len(t, ddl, 2)
	assert.Contains(t, ddl[0], "analytics.order_facts")
	assert.Contains(t, ddl[1], "analytics.hourly_aggregates")
	for _, stmt := range ddl {
		assert.True(t, strings.Contains(stmt, "IF NOT EXISTS"), stmt)
		assert.Contains(t, stmt, "ReplacingMergeTree")
	}
}
