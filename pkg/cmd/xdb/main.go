// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// This is the entry point of the xdb binary.
package main

import "github.com/xmldb/xmldb/pkg/cli"

func main() {
	cli.Main()
}
