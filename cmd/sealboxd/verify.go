package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/sealbox/backend/internal/storage"
)

// verifyObjects re-hashes every stored blob and reports mismatches. It
// returns the number of failed objects.
func verifyObjects(objects *storage.ObjectIndex, out io.Writer) int {
	recs, err := objects.List()
	if err != nil {
		fmt.Fprintf(out, "list objects: %v\n", err)
		return 1
	}

	failed := 0
	var total int64
	for _, rec := range recs {
		if err := objects.Verify(rec.Path); err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", rec.Path, err)
			failed++
			continue
		}
		total += rec.BlobSize
	}
	fmt.Fprintf(out, "%d objects checked, %d failed, %s verified\n", len(recs), failed, humanize.Bytes(uint64(total)))
	return failed
}
