// Command patchvec runs the vector-search service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowlexi/patchvec/internal/apperr"
)

func main() {
	root := &cobra.Command{
		Use:           "patchvec",
		Short:         "Multi-tenant vector search service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "patchvec:", err)
		os.Exit(apperr.ExitCode(err))
	}
}
