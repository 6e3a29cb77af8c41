package main

import (
	"chat-core/internal"
	"chat-core/repositories"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// inspect prints the store tree of a chatcore database, one leaf per line.
func main() {
	dbPath := flag.String("db", "", "Path to the badger directory")
	path := flag.String("path", "", "Store path to list, e.g. conversations/alice_bob/messages")
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect -db <dir> [-path <store path>]")
		os.Exit(2)
	}

	// BypassLockGuard lets the inspector read while chatcore holds the lock.
	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	rows, err := internal.ScanRows(db, repositories.NodeKeyPrefix+*path, repositories.NodeMapper)
	if err != nil {
		log.Fatal(err)
	}
	internal.RenderRows(os.Stdout, rows)
}
