// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package keyvalue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWhereExprMatches(t *testing.T) {
	expr, err := CompileWhere(`metadata["color"] == "red" && metadata["size"] > 2`)
	require.NoError(t, err)

	ok, err := expr.Matches(Metadata{
		"color": ValueOfStr("red"),
		"size":  ValueOfUInt32(5),
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = expr.Matches(Metadata{
		"color": ValueOfStr("blue"),
		"size":  ValueOfUInt32(5),
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileWhereRejectsInvalidSyntax(t *testing.T) {
	_, err := CompileWhere(`metadata[`)
	require.Error(t, err)
}
