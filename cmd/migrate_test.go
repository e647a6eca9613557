package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x UInt8);\n\n  CREATE TABLE b (y UInt8) ;\n")
	assert.Equal(t, []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (y UInt8)"}, got)
	assert.Empty(t, splitStatements("  ;\n"))
}
