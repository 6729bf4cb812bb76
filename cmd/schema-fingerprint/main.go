// Command schema-fingerprint prints, or writes to a directory, a digest of
// the schema gridctl migrates into SQLite.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/lablup/backend.ai-sub009/internal/db"
)

func main() {
	outDir := pflag.StringP("out-dir", "o", "", "write schema-fingerprint.txt and .sha256 here instead of printing")
	pflag.Parse()

	if err := run(context.Background(), os.Stdout, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "schema-fingerprint: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, outDir string) error {
	fp, err := db.ComputeSchemaFingerprint(ctx)
	if err != nil {
		return err
	}
	if outDir == "" {
		_, err = fmt.Fprintf(out, "sha256 %s\n%s", fp.SHA256, fp.Dump)
		return err
	}
	dumpPath, hashPath, err := fp.WriteFiles(outDir)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "wrote %s and %s\n", dumpPath, hashPath)
	return err
}
