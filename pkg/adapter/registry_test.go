package adapter

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownAdapterError_Error(t *testing.T) {
	err := &UnknownAdapterError{
		Type:      "fake_db",
		Available: []string{"duckdb", "sqlite"},
	}

	msg := err.Error()
	assert.Contains(t, msg, `"fake_db"`)
	assert.Contains(t, msg, "duckdb, sqlite")
}

func TestRegister(t *testing.T) {
	Register("test_adapter_internal", func(_ *slog.Logger) Adapter { return nil }, FormatTSV)

	assert.True(t, IsRegistered("test_adapter_internal"))
	assert.Contains(t, ListAdapters(), "test_adapter_internal")
	assert.Equal(t, []FileFormat{FormatTSV}, Formats("test_adapter_internal"))

	factory, ok := Get("test_adapter_internal")
	assert.True(t, ok)
	assert.NotNil(t, factory)
}

func TestForFormat(t *testing.T) {
	Register("zz_reader", func(_ *slog.Logger) Adapter { return nil }, FileFormat("feather"))
	Register("aa_reader", func(_ *slog.Logger) Adapter { return nil }, FileFormat("feather"))

	name, ok := ForFormat("feather")
	require.True(t, ok)
	assert.Equal(t, "aa_reader", name, "lexically smallest adapter wins")

	_, ok = ForFormat("xls")
	assert.False(t, ok)
}

func TestNewAdapter_EmptyType(t *testing.T) {
	_, err := NewAdapter(Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, "adapter type not specified", err.Error())
}
