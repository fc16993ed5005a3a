// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

//go:build !linux

package fst

import (
	"github.com/pkg/errors"
)

type mmapFile struct{}

func mmapOpen(path string) (*mmapFile, error) {
	return nil, errors.New("mmap not supported on this platform")
}

func (m *mmapFile) Size() int64 { return 0 }

func (m *mmapFile) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("mmap not supported on this platform")
}

func (m *mmapFile) Close() error { return nil }
