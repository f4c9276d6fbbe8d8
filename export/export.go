// Package export writes drained acquisition records.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/kozdaq/acquire"
)

// ErrEmpty is generated when there are no records to write as an image
var ErrEmpty = errors.New("export: no records")

// WriteTSV writes one "channel\tvalue\ttime" line per record, in order
func WriteTSV(w io.Writer, records iter.Seq[acquire.Record]) error {
	bw := bufio.NewWriter(w)
	for r := range records {
		if _, err := fmt.Fprintf(bw, "%d\t%f\t%f\n", r.Channel, r.Value, r.Time); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFITS writes the records as a 3xN float64 image, one row of
// (channel, value, time) per record, with metadata cards in the header
func WriteFITS(w io.Writer, records iter.Seq[acquire.Record], metadata ...fitsio.Card) error {
	var buf []float64
	for r := range records {
		buf = append(buf, float64(r.Channel), r.Value, r.Time)
	}
	n := len(buf) / 3
	if n == 0 {
		return ErrEmpty
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{3, n})
	defer im.Close()
	metadata = append(metadata,
		fitsio.Card{Name: "COL1", Value: "channel"},
		fitsio.Card{Name: "COL2", Value: "voltage", Comment: "V"},
		fitsio.Card{Name: "COL3", Value: "time", Comment: "s"},
	)
	if err := im.Header().Append(metadata...); err != nil {
		return err
	}
	if err := im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}
