// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/invowk/cokernel/cmd/cokernel"

func main() {
	cmd.Execute()
}
