package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/snietofennis/BEP-code/pkg/result"
	"github.com/snietofennis/BEP-code/pkg/util"
)

func printTable(w io.Writer, store *result.Store, every int) {
	if every < 1 {
		every = 1
	}
	names := store.Names()
	n := store.Len()
	fmt.Fprintf(w, "\nTransient Analysis Results (%d time points):\n", n)
	if n == 0 {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%10s", "time")
	for _, name := range names {
		fmt.Fprintf(&sb, " %12s", name)
	}
	fmt.Fprintln(w, sb.String())
	fmt.Fprintln(w, strings.Repeat("-", sb.Len()))

	for k := 0; k < n; k++ {
		// The last point is always printed.
		if k%every != 0 && k != n-1 {
			continue
		}
		t, values := store.Row(k)
		sb.Reset()
		sb.WriteString(util.FormatTime(t))
		for _, v := range values {
			sb.WriteString(" ")
			sb.WriteString(util.FormatQuantity(v))
		}
		fmt.Fprintln(w, sb.String())
	}

	t, values := store.Row(n - 1)
	fmt.Fprintf(w, "\nFinal values at t=%s:\n", strings.TrimSpace(util.FormatTime(t)))
	for i, name := range names {
		fmt.Fprintf(w, "  %-24s %s\n", name, util.FormatValueFactor(values[i], ""))
	}
}

func writeOutputs(store *result.Store, meta result.Metadata, csvPath, jsonPath string) error {
	if csvPath != "" {
		if err := writeFile(csvPath, store.WriteCSV); err != nil {
			return err
		}
	}
	if jsonPath != "" {
		err := writeFile(jsonPath, func(w io.Writer) error { return store.WriteJSON(w, meta) })
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
