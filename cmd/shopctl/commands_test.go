package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestImportProductsDryRun(t *testing.T) {
	path := writeFile(t, "products.csv", "name,price\nWidget,9.99\n,\nGadget,3\n")

	out, err := run(t, "import", "products", "--dry-run", path)
	require.NoError(t, err)

	var res struct {
		Products []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"products"`
		Skipped int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.Len(t, res.Products, 2)
	assert.Equal(t, "Widget", res.Products[0].Name)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportProductsDryRun_InvalidRow(t *testing.T) {
	path := writeFile(t, "products.csv", "name,discount\nWidget,lots\n")

	out, err := run(t, "import", "products", "--dry-run", path)
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(err))

	var res struct {
		Failure struct {
			Line   int    `json:"line"`
			Column string `json:"column"`
		} `json:"failure"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, 2, res.Failure.Line)
	assert.Equal(t, "discount", res.Failure.Column)
}

func TestImportProductsDryRun_Encoding(t *testing.T) {
	path := writeFile(t, "products.csv", "name\nCaf\xe9\n")

	out, err := run(t, "import", "--encoding", "windows-1252", "products", "--dry-run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Café")
}

func TestImport_MissingFile(t *testing.T) {
	_, err := run(t, "import", "products", "--dry-run", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestImport_ArgumentCount(t *testing.T) {
	_, err := run(t, "import", "orders")
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, exitCode(errors.New("plain")))
	assert.Equal(t, exitDB, exitCode(withCode(exitDB, errors.New("db"))))
	assert.NoError(t, withCode(exitDB, nil))
}
