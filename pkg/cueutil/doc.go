// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE parsing flow shared by scenario files and
// other schema-backed inputs:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify it with the schema definition
//  3. Validate and decode into a Go struct
//
// # Usage
//
//	//go:embed scenario_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Scenario](
//	    schemaBytes,
//	    data,
//	    "#Scenario",
//	    cueutil.WithFilename("nano.cue"),
//	)
//	if err != nil {
//	    return nil, err // includes the CUE path of the offending field
//	}
//	return result.Value, nil
package cueutil
