// Command kestrel-bootstrap-gen is a developer tool, not shipped to
// production hosts: given a built kestrel-agent binary, it writes the
// gzip-compressed bytes to the output file and prints the SHA-256 digest
// of the uncompressed binary to stdout. The session package does not read
// these files itself; agent bytes reach a Session through
// session.Config.AgentBinary.
package main

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kestrel-bootstrap-gen:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("kestrel-bootstrap-gen", pflag.ContinueOnError)
	input := flags.StringP("input", "i", "", "path to the built kestrel-agent binary")
	output := flags.StringP("output", "o", "", "path to write the gzip-compressed payload")
	level := flags.IntP("level", "l", gzip.BestCompression, "gzip compression level (1-9)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *input == "" || *output == "" {
		return fmt.Errorf("--input and --output are required")
	}

	digest, size, err := compress(*input, *output, *level)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s (%d bytes compressed)\nsha256: %s\n", *output, size, digest)
	return nil
}

// compress gzip-compresses the binary at inputPath into outputPath at the
// given level, returning the uncompressed binary's SHA-256 digest and the
// compressed size written.
func compress(inputPath, outputPath string, level int) (digest string, compressedSize int64, err error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return "", 0, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("open output: %w", err)
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return "", 0, fmt.Errorf("construct gzip writer: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(gw, hasher), in); err != nil {
		_ = gw.Close()
		return "", 0, fmt.Errorf("compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", 0, fmt.Errorf("flush gzip writer: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat output: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), info.Size(), nil
}
