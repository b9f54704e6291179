// Copyright 2024 The rtpscore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command rtpscored runs the RTPS transport/forwarding core as a
// standalone process, mirroring cmd/caddy's cobra-based command
// pattern scaled down to this core's much smaller CLI/config surface
// (spec §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at release time; "devel" covers local builds.
var version = "devel"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rtpscored",
		Short:         "RTPS transport multiplexer and hybrid forwarder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStartCmd(),
		newVersionCmd(),
		newDumpForwardingTableCmd(),
		newValidateConfigCmd(),
	)
	return root
}
