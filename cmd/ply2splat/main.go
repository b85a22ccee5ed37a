// Command ply2splat converts an interchange (PLY) splat file into the
// compact 32-byte-per-record runtime format.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/unixpickle/essentials"

	"github.com/hankberger/gosplat/export"
)

func main() {
	var output string
	flag.StringVar(&output, "output", "", "output file (defaults to the input with a .splat extension)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <input.ply>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()
	if len(flag.Args()) != 1 {
		flag.Usage()
	}

	input := flag.Args()[0]
	if output == "" {
		output = strings.TrimSuffix(input, ".ply") + ".splat"
	}
	essentials.Must(export.ConvertPLY(input, output))
}
