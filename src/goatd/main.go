// goatd is a profile-driven Linux kernel build orchestrator: it resolves a
// finalized kernel configuration, surgically patches the package build
// script and kernel .config, and drives the build to completion.
package main

import (
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/core"
)

func main() {
	core.Execute()
}
