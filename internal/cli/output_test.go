package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famcal/internal/config"
	"github.com/roach88/famcal/internal/provider"
	"github.com/roach88/famcal/internal/record"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"task": "仕事"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Contains(t, buf.String(), "仕事", "non-ASCII is written verbatim")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeStorage, "save failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeStorage, resp.Error.Code)
	assert.Equal(t, "save failed", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E001", "save failed", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "save failed")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("E001", "save failed", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Emit(t *testing.T) {
	text := func(w io.Writer) { fmt.Fprintln(w, "rendered") }

	buf := &bytes.Buffer{}
	require.NoError(t, (&OutputFormatter{Format: "text", Writer: buf}).Emit([]string{"a"}, text))
	assert.Equal(t, "rendered\n", buf.String())

	buf.Reset()
	require.NoError(t, (&OutputFormatter{Format: "json", Writer: buf}).Emit([]string{"a"}, text))
	assert.JSONEq(t, `{"status":"ok","data":["a"]}`, buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("wrote %s", "backup.json")

			assert.Empty(t, out.String(), "diagnostics never reach stdout")
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "wrote backup.json")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"invalid record", fmt.Errorf("save: %w", record.ErrInvalid), ErrCodeInvalid, ExitCommandError},
		{"invalid config", fmt.Errorf("load: %w", config.ErrInvalid), ErrCodeConfig, ExitCommandError},
		{"persistence failed", provider.PersistenceFailed("save task", errors.New("disk full")), ErrCodeStorage, ExitFailure},
		{"backend unavailable", provider.Unavailable(provider.BackendKV, "get", errors.New("refused")), ErrCodeStorage, ExitFailure},
		{"server unreachable", provider.Unavailable(provider.BackendRemote, "events", errors.New("refused")), ErrCodeRemote, ExitFailure},
		{"other", errors.New("boom"), ErrCodeGeneric, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, exit := classify(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantExit, exit)
		})
	}
}

func TestFail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail("save event", fmt.Errorf("%w: bad date", record.ErrInvalid))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, record.ErrInvalid)
	assert.Contains(t, buf.String(), "Error [E002]: save event")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.Reported)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad"))))
}
