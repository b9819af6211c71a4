// Command tiledb-bench drives a sortedread.Session against an
// array.MemStore and reports the resulting stats.Snapshot: a small
// cobra.Command tree with int, int64 and bool flags feeding a single RunE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiledb-go/tiledb/array"
	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/sortedread"
)

var readConfig struct {
	dimNum     int
	domainHi   int64
	tileExtent int64
	bufferSize int
	colMajor   bool
	verbose    bool
}

func main() {
	root := &cobra.Command{
		Use:   "tiledb-bench",
		Short: "exercise the sorted-read pipeline against an in-memory reference array",
	}

	readCmd := &cobra.Command{
		Use:   "read",
		Short: "run a full sorted read over a synthetic dense array and report stats",
		RunE:  runRead,
	}
	readCmd.Flags().IntVar(&readConfig.dimNum, "dims", 2, "number of dimensions")
	readCmd.Flags().Int64Var(&readConfig.domainHi, "domain-hi", 63, "inclusive upper domain bound per dimension")
	readCmd.Flags().Int64Var(&readConfig.tileExtent, "tile-extent", 8, "tile extent per dimension")
	readCmd.Flags().IntVar(&readConfig.bufferSize, "buffer-bytes", 1<<16, "output buffer size per Read call, in bytes")
	readCmd.Flags().BoolVar(&readConfig.colMajor, "col-major", false, "read out in column-major order instead of row-major")
	readCmd.Flags().BoolVar(&readConfig.verbose, "verbose", false, "log every Read call's outcome")
	root.AddCommand(readCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	d := readConfig.dimNum
	if d < 1 {
		return fmt.Errorf("--dims must be >= 1")
	}

	domainLo := make([]int64, d)
	domainHi := make([]int64, d)
	tileExtent := make([]int64, d)
	subarray := make([]int64, 2*d)
	for i := 0; i < d; i++ {
		domainHi[i] = readConfig.domainHi
		tileExtent[i] = readConfig.tileExtent
		subarray[2*i] = 0
		subarray[2*i+1] = readConfig.domainHi
	}

	schema := &array.Schema[int64]{
		DimNum:     d,
		DomainLo:   domainLo,
		DomainHi:   domainHi,
		TileExtent: tileExtent,
		TileOrder:  base.RowMajor,
		CellOrder:  base.RowMajor,
		Dense:      true,
		Attrs: []array.AttrSchema{
			{Name: "a1", CellSize: 8},
		},
	}
	if err := schema.Validate(); err != nil {
		return err
	}

	store := array.NewMemStore[int64](schema, map[int]array.CellGen{
		0: func(coords []int64) []byte {
			var sum int64
			for _, c := range coords {
				sum += c
			}
			b := make([]byte, 8)
			for i := 0; i < 8; i++ {
				b[i] = byte(sum >> (8 * i))
			}
			return b
		},
	}, nil)

	layout := base.RowMajor
	if readConfig.colMajor {
		layout = base.ColMajor
	}

	var opts []sortedread.Option
	if readConfig.verbose {
		opts = append(opts, sortedread.WithLogger(base.DefaultLogger()))
	}

	session, err := sortedread.NewSession[int64](store, []int{0}, subarray, layout, opts...)
	if err != nil {
		return err
	}
	defer session.Close()

	var reads, totalBytes int
	buf := make([]byte, readConfig.bufferSize)
	for !session.Done() {
		buffers := []sortedread.Buffer{{AttrID: 0, Data: buf}}
		outcome, err := session.Read(buffers)
		if err != nil {
			return err
		}
		reads++
		totalBytes += buffers[0].Written
		if readConfig.verbose {
			fmt.Printf("read %d: wrote %d bytes, overflow=%v done=%v\n", reads, buffers[0].Written, outcome.Overflow, outcome.Done)
		}
	}

	snap := session.Stats()
	fmt.Printf("reads=%d bytes=%d slabs_planned=%d slabs_consumed=%d tiles_visited=%d cells_copied=%d overflows=%d aio_reads=%d\n",
		reads, totalBytes, snap.SlabsPlanned, snap.SlabsConsumed, snap.TilesVisited, snap.CellsCopied, snap.Overflows, snap.AIOReadsPosted)
	return nil
}
