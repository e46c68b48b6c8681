// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command arcview drives the archive engine from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/lemon4ksan/arcview"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)

	password := flag.String("password", "", "archive password")
	workers := flag.Int("workers", 0, "compression workers (default: number of CPUs)")
	open := flag.Bool("open", false, "open the extracted file with the system handler")
	tempDir := flag.String("dir", "", "extraction directory")
	reject := flag.Bool("reject-duplicates", false, "fail instead of renaming duplicate basenames")
	flag.Usage = printUsage

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	operation := os.Args[1]
	flag.CommandLine.Parse(os.Args[2:])
	args := flag.Args()

	opts := []arcview.Option{
		arcview.WithWorkers(*workers),
		arcview.WithTempDir(*tempDir),
	}
	if !*open {
		opts = append(opts, arcview.WithOpener(arcview.NopOpener{}))
	}
	if *reject {
		opts = append(opts, arcview.WithDuplicatePolicy(arcview.DuplicateReject))
	}
	engine := arcview.NewEngine(opts...)

	var err error
	switch operation {
	case "compress":
		err = handleCompress(engine, args, *password)
	case "list":
		err = handleList(engine, args, *password)
	case "extract":
		err = handleExtract(engine, args, *password)
	default:
		fmt.Println("Invalid operation:", operation)
		printUsage()
		os.Exit(2)
	}

	klog.Flush()
	if err != nil {
		fmt.Println("Error:", err)
		if arcview.KindOf(err).Retryable() {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

// printUsage prints the command-line usage information
func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  arcview compress [-password p] [-workers n] output.zip file...")
	fmt.Println("  arcview list [-password p] archive.zip")
	fmt.Println("  arcview extract [-password p] [-dir d] [-open] archive.zip entry")
}

func handleCompress(engine *arcview.Engine, args []string, password string) error {
	if len(args) < 1 {
		return errors.New("missing output archive")
	}

	files := make([]string, 0, len(args)-1)
	for _, arg := range args[1:] {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		files = append(files, abs)
	}

	job, err := engine.StartCompress(files, args[0], password)
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		select {
		case <-interrupt:
			engine.CancelCompress()
		case <-job.Done():
		}
	}()

	for u := range job.Progress().Updates() {
		fmt.Printf("\rCompressing... %.1f%% (%s)", u.Snapshot.Fraction*100, u.Snapshot.Stats)
	}
	fmt.Println()

	err = job.Wait()
	fmt.Println(job.Message())
	return err
}

func handleList(engine *arcview.Engine, args []string, password string) error {
	if len(args) != 1 {
		return errors.New("expected one archive")
	}

	entries, err := engine.OpenArchive(context.Background(), args[0], password)
	if err != nil {
		return err
	}

	for _, e := range entries {
		switch {
		case e.IsDir:
			fmt.Printf("%s/\n", e.Name)
		default:
			fmt.Printf("%s (%d bytes)\n", e.Name, e.Size)
		}
	}
	return nil
}

func handleExtract(engine *arcview.Engine, args []string, password string) error {
	if len(args) != 2 {
		return errors.New("expected archive and entry name")
	}

	job, err := engine.ExtractEntry(args[0], args[1], password)
	if err != nil {
		return err
	}

	for u := range job.Progress().Updates() {
		if u.Cleared {
			continue
		}
		fmt.Printf("\rExtracting %s... %.1f%%", u.Snapshot.Stats.CurrentFile, u.Snapshot.Fraction*100)
	}
	fmt.Println()

	_, err = job.Wait()
	fmt.Println(job.Message())
	return err
}
