package pretty

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	tbl := Table{
		Header: Header{"Key", "Value"},
		Rows: Rows{
			{"listen_addr", "127.0.0.1:8080"},
			{"max_workers", 1000},
		},
	}

	var buf bytes.Buffer
	tbl.Fprint(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Key")
	assert.Contains(t, lines[1], "127.0.0.1:8080")
	assert.Contains(t, lines[2], "1000")
	assert.NotContains(t, buf.String(), "|")
}

func TestTable_WithBorder(t *testing.T) {
	tbl := Table{
		Header: Header{"Key"},
		Rows:   Rows{{"a"}},
		Style:  StyleWithBorder,
	}

	var buf bytes.Buffer
	tbl.Fprint(&buf)

	assert.Contains(t, buf.String(), "|a")
	assert.True(t, strings.HasPrefix(buf.String(), "+"))
}
