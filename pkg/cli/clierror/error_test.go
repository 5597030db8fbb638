// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package clierror_test

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/xmldb/xmldb/pkg/cli/clierror"
	"github.com/xmldb/xmldb/pkg/cli/exit"
)

func TestExitCode(t *testing.T) {
	base := errors.New("server gone")
	err := errors.Wrap(clierror.NewError(base, exit.ServerUnavailable()), "dumping locks")

	require.Equal(t, "dumping locks: server gone", err.Error())
	require.True(t, errors.Is(err, base))
	require.Equal(t, exit.ServerUnavailable(), clierror.ExitCode(err))
	require.Contains(t, fmt.Sprintf("%+v", err), "error with exit code: 125")

	require.Equal(t, exit.UnspecifiedError(), clierror.ExitCode(base))
}
