// Command rq is record-query's driver binary: a jq-like filter that reads
// records in one wire format from stdin, runs them through a pipe-separated
// query, and writes records in another wire format to stdout.
package main

import (
	"os"

	"github.com/recordquery/rq/internal/driver"
)

func main() {
	os.Exit(driver.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
