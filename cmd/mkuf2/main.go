//go:build !tinygo

// Command mkuf2 converts a raw firmware binary into a UF2 image that
// hostlink can upload.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/Pjottos/gocycling-controller/update"
)

const defaultOutPath = "firmware.uf2"

func main() {
	var inPath string
	var outPath string
	var recordsPath string
	var base string
	var family string
	flag.StringVar(&inPath, "in", "", "Raw firmware binary.")
	flag.StringVar(&outPath, "out", defaultOutPath, "Output UF2 path.")
	flag.StringVar(&recordsPath, "records", "", "Also write the checksummed update stream to this path.")
	flag.StringVar(&base, "base", "0x10000000", "Load address of the binary.")
	flag.StringVar(&family, "family", "0xE48BFF56", "UF2 family id.")
	flag.Parse()

	if inPath == "" {
		fmt.Fprintln(os.Stderr, "error: -in is required")
		os.Exit(2)
	}
	if outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}
	baseAddr, err := parseUint32(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: -base:", err)
		os.Exit(2)
	}
	familyID, err := parseUint32(family)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: -family:", err)
		os.Exit(2)
	}

	n, err := run(inPath, outPath, recordsPath, baseAddr, familyID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d blocks\n", outPath, n)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func run(inPath, outPath, recordsPath string, base, family uint32) (int, error) {
	bin, err := os.ReadFile(inPath)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", inPath, err)
	}
	if len(bin) == 0 {
		return 0, fmt.Errorf("%q is empty", inPath)
	}
	chunks, err := update.Pack(bin, base, family)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", inPath, err)
	}

	if err := os.WriteFile(outPath, update.AppendFile(nil, chunks), 0o644); err != nil {
		return 0, fmt.Errorf("write %q: %w", outPath, err)
	}
	if recordsPath != "" {
		var stream []byte
		for i := range chunks {
			stream = update.AppendRecord(stream, &chunks[i])
		}
		if err := os.WriteFile(recordsPath, stream, 0o644); err != nil {
			return 0, fmt.Errorf("write %q: %w", recordsPath, err)
		}
	}
	return len(chunks), nil
}
