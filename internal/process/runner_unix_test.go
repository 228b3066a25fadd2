//go:build unix

package process

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerStartsToolInOwnProcessGroup(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads the process group from /proc")
	}
	script := writeScript(t, `read -r _ _ _ _ pgrp _ < /proc/$$/stat; echo "$$ $pgrp"`)

	result, err := NewExecRunner().Run(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode, result.Stderr)

	fields := strings.Fields(result.Stdout)
	require.Len(t, fields, 2)
	pid, err := strconv.Atoi(fields[0])
	require.NoError(t, err)
	pgrp, err := strconv.Atoi(fields[1])
	require.NoError(t, err)

	assert.Equal(t, pid, pgrp, "tool leads its own group")
	assert.NotEqual(t, syscall.Getpgrp(), pgrp, "tool is outside the converter's group")
}
