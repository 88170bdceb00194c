// Package main provides a command-line utility to inspect bpkg manifests
// offline: it loads the package, binds the data file, and prints hash
// queries without joining the network.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/btide/btide/internal/bpkg"
)

func main() {
	allHashes := flag.Bool("all-hashes", false, "Print every tree hash in pre-order")
	chunkHashes := flag.Bool("chunk-hashes", false, "Print all chunk hashes")
	completed := flag.Bool("completed", false, "Print completed chunk hashes")
	minCompleted := flag.Bool("min-completed", false, "Print the minimal completed subtree roots")
	fileCheck := flag.Bool("file-check", false, "Report whether the data file existed or was created")
	chunksOf := flag.String("chunks-of", "", "Print the chunk hashes beneath the given ancestor hash")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Println("Usage: bpkgchk [flags] <package.bpkg>")
		fmt.Println("Flags:")
		flag.PrintDefaults()
		return
	}

	pkg, status, err := bpkg.Load(args[0], filepath.Dir(args[0]))
	if err != nil {
		log.Fatalf("Failed to load package: %v", err)
	}
	defer func() {
		if err := pkg.Close(); err != nil {
			log.Printf("Failed to close package: %v", err)
		}
	}()

	if *fileCheck {
		fmt.Println(status)
	}
	if *allHashes {
		printHashes(pkg.AllHashes())
	}
	if *chunkHashes {
		printHashes(pkg.ChunkHashes())
	}
	if *completed {
		printHashes(pkg.CompletedChunks())
	}
	if *minCompleted {
		printHashes(pkg.MinCompleted())
	}
	if *chunksOf != "" {
		hashes, err := pkg.ChunksFromHash(*chunksOf)
		if err != nil {
			log.Fatalf("Failed to resolve hash: %v", err)
		}
		printHashes(hashes)
	}
}

func printHashes(hashes []string) {
	for _, h := range hashes {
		fmt.Println(h)
	}
}
