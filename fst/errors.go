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

package fst

import (
	"fmt"

	"github.com/pkg/errors"
)

// IoError is returned when the underlying byte
// source fails to read or seek. IoErrors are
// never retried.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return "fst: " + e.Op + ": " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *IoError) Unwrap() error { return e.Err }

// Cause implements the github.com/pkg/errors causer interface.
func (e *IoError) Cause() error { return e.Err }

// FormatError describes a structural violation
// in the input: the file cannot be decoded as
// written.
type FormatError struct {
	// Op is the decoding step that failed.
	Op string
	// Offset is the file offset of the offending
	// structure, or -1 if not known.
	Offset int64
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	s := "fst: " + e.Op + ": " + e.Msg
	if e.Err != nil {
		if e.Msg == "" {
			s = "fst: " + e.Op + ": " + e.Err.Error()
		} else {
			s += ": " + e.Err.Error()
		}
	}
	if e.Offset >= 0 {
		s += fmt.Sprintf(" (offset %d)", e.Offset)
	}
	return s
}

// Unwrap returns the underlying error, if any.
func (e *FormatError) Unwrap() error { return e.Err }

// Cause implements the github.com/pkg/errors causer interface.
func (e *FormatError) Cause() error { return e.Err }

func formatErrorf(op string, off int64, format string, args ...interface{}) *FormatError {
	return &FormatError{Op: op, Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// wrapFormat turns err into a FormatError
// unless it is already one of the typed errors
// in this package.
func wrapFormat(op string, off int64, err error) error {
	if err == nil {
		return nil
	}
	var fe *FormatError
	var ie *IoError
	if errors.As(err, &fe) || errors.As(err, &ie) {
		return err
	}
	return &FormatError{Op: op, Offset: off, Err: err}
}

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *IoError
	if errors.As(err, &ie) {
		return err
	}
	return &IoError{Op: op, Err: err}
}

// BlockError reports corruption confined to
// one value-change block. Data from other blocks
// remains usable.
type BlockError struct {
	// Index is the position of the block among
	// the value-change blocks of the file.
	Index int
	// Start and End are the block's declared
	// time range.
	Start, End uint64
	Err        error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("fst: value-change block %d [%d, %d]: %s", e.Index, e.Start, e.End, e.Err)
}

// Unwrap returns the underlying error.
func (e *BlockError) Unwrap() error { return e.Err }

// Cause implements the github.com/pkg/errors causer interface.
func (e *BlockError) Cause() error { return e.Err }

// PartialError is returned by ReadSignals when
// corrupt blocks were skipped (see WithSkipCorruptBlocks).
// Every record from the remaining blocks was delivered.
type PartialError struct {
	Blocks []*BlockError
}

func (e *PartialError) Error() string {
	if len(e.Blocks) == 1 {
		return "fst: skipped corrupt block: " + e.Blocks[0].Error()
	}
	return fmt.Sprintf("fst: skipped %d corrupt blocks; first: %s", len(e.Blocks), e.Blocks[0])
}

// IsFormatError returns true if err is
// (or wraps) a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsIoError returns true if err is
// (or wraps) an *IoError.
func IsIoError(err error) bool {
	var ie *IoError
	return errors.As(err, &ie)
}

// IsPartial returns true if err reports a
// localized loss of value-change data, meaning
// the rest of the file remains usable.
func IsPartial(err error) bool {
	var pe *PartialError
	var be *BlockError
	return errors.As(err, &pe) || errors.As(err, &be)
}
