package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/gridstat/gridkit/ingest"
)

// WatermarksMain is wrapped by NewWatermarksCommand and only exported for
// testing purposes.
var WatermarksMain *ingest.StatusMain

// NewWatermarksCommand returns a new cobra command wrapping WatermarksMain.
func NewWatermarksCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	WatermarksMain = ingest.NewStatusMain()
	wmCommand := &cobra.Command{
		Use:   "watermarks",
		Short: "watermarks - print the stored watermark for each entity",
		Long: `Reads the watermark store and prints one line per entity with the
cursor committed by the last successful run, or "-" if the entity has
never committed. Read-only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			WatermarksMain.Out = stdout
			return WatermarksMain.Run()
		},
	}
	flags := wmCommand.Flags()
	err = commandeer.Flags(flags, WatermarksMain)
	if err != nil {
		panic(err)
	}
	return wmCommand
}

func init() {
	subcommandFns["watermarks"] = NewWatermarksCommand
}
