// pipepump copies stdin to stdout (or between files) through a staging
// pipe, reporting transfer statistics on stderr. It is mainly a tool for
// eyeballing how the pipe behaves with different buffer sizes, read
// chunks and allocators.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/trondn/platform"
	"github.com/trondn/platform/pump"
	"github.com/trondn/platform/storage"
)

var (
	input   = flag.String("in", "", "input file (default stdin)")
	output  = flag.String("out", "", "output file (default stdout)")
	size    = flag.Int("size", pump.DefaultBufferSize, "initial staging buffer size in bytes")
	chunk   = flag.Int("chunk", pump.DefaultReadChunk, "write space guaranteed before every read")
	mapped  = flag.Bool("mapped", false, "stage through an anonymous memory mapping")
	backed  = flag.String("file-backed", "", "stage through a memory mapped file in this directory")
	metrics = flag.Bool("metrics", false, "report transfer size distributions")
	stats   = flag.Bool("stats", false, "report the staging pipe's internal properties")
	verbose = flag.Bool("v", false, "enable library logging")
)

func openStreams() (io.Reader, io.Writer, func(), error) {
	var (
		in  io.Reader = os.Stdin
		out io.Writer = os.Stdout
		fin *os.File
		fou *os.File
	)

	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			return nil, nil, nil, err
		}
		in, fin = f, f
	}

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			if fin != nil {
				fin.Close()
			}
			return nil, nil, nil, err
		}
		out, fou = f, f
	}

	cleanup := func() {
		if fin != nil {
			fin.Close()
		}
		if fou != nil {
			fou.Close()
		}
	}

	return in, out, cleanup, nil
}

func allocator() storage.Allocator {
	if *backed != "" {
		return storage.NewFileAllocator(*backed)
	}
	if *mapped {
		return storage.MapAllocator{}
	}
	return storage.HeapAllocator{}
}

func main() {
	flag.Parse()

	if *verbose {
		platform.EnableLogging(true)
	}

	in, out, cleanup, err := openStreams()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pipepump:", err)
		os.Exit(1)
	}
	defer cleanup()

	opts := pump.Options{
		BufferSize: *size,
		ReadChunk:  *chunk,
		Allocator:  allocator(),
	}
	if *metrics {
		opts.Metrics = pump.NewMetrics()
	}
	if *stats {
		opts.Stats = func(key, value string) {
			fmt.Fprintf(os.Stderr, "pipe.%s = %s\n", key, value)
		}
	}

	res, err := pump.Copy(out, in, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pipepump:", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "%d bytes in %d reads, %d writes\n", res.Bytes, res.Reads, res.Writes)
	opts.Metrics.Report(func(key, value string) {
		fmt.Fprintf(os.Stderr, "%s = %s\n", key, value)
	})
}
