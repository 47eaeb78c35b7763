// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/orbisgis/framework/cmd/orbisgis"

func main() {
	cmd.Execute()
}
