package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/gridstat/gridkit/ingest"
)

// IngestMain is wrapped by NewIngestCommand and only exported for testing
// purposes.
var IngestMain *ingest.Main

// NewIngestCommand returns a new cobra command wrapping IngestMain.
func NewIngestCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	IngestMain = ingest.NewMain()
	ingestCommand := &cobra.Command{
		Use:   "ingest",
		Short: "ingest - run one incremental ingestion pass per entity",
		Long: `Fetches each configured entity's listing, normalizes and stamps the
records, writes season-partitioned segments, and commits the new
watermark. Safe to re-run: rows at or below the stored watermark are
skipped, and a failed run leaves the watermark untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = IngestMain.Run()
			if err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := ingestCommand.Flags()
	err = commandeer.Flags(flags, IngestMain)
	if err != nil {
		panic(err)
	}
	return ingestCommand
}

func init() {
	subcommandFns["ingest"] = NewIngestCommand
}
