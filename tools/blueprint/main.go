package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brainlesscar/rerelay/blueprint"
	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/hlc"
	"github.com/brainlesscar/rerelay/id"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "write":
		err = runWrite(args)
	case "inspect":
		err = runInspect(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`blueprint - rerelay viewer layout tool

Usage:
  blueprint <command> [options]

Commands:
  write     Write a blueprint file with one space view per entity path
  inspect   Print the records of a blueprint file
  help      Show this help

Run "blueprint <command> --help" for command options.`)
}

func runWrite(args []string) error {
	fs := pflag.NewFlagSet("write", pflag.ContinueOnError)
	out := fs.StringP("out", "o", "car.rbl", "output file")
	appID := fs.String("app-id", "brainlesscar", "application id of the blueprint store")
	storeID := fs.String("store-id", "", "blueprint store id (generated when empty)")
	views := fs.StringSlice("view", []string{"world"}, "entity path shown in its own space view (repeatable)")
	compression := fs.String("compression", "lz4", "record compression: none|lz4|zstd")
	makeDefault := fs.Bool("default", true, "make the layout the default blueprint")
	makeActive := fs.Bool("active", true, "activate the layout immediately")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	comp, err := encoding.ParseCompression(*compression)
	if err != nil {
		return err
	}

	sid := *storeID
	if sid == "" {
		sid = id.NewULIDGenerator().NextID()
	}

	clock := hlc.NewClock()
	stamp := func(m common.Msg) common.Msg {
		ts := clock.Now()
		m.LogTime, m.LogTick = ts.LogTime, ts.LogTick
		return m
	}

	msgs := []common.Msg{stamp(common.Msg{
		Kind:          common.KindSetStoreInfo,
		StoreID:       sid,
		StoreKind:     common.StoreBlueprint,
		ApplicationID: *appID,
	})}
	rows := id.NewULIDGenerator()
	for _, v := range *views {
		v = strings.Trim(strings.TrimSpace(v), "/")
		if v == "" {
			continue
		}
		m := stamp(common.Msg{
			Kind:       common.KindArrow,
			StoreID:    sid,
			StoreKind:  common.StoreBlueprint,
			EntityPath: "space_view/" + v,
			Payload:    []byte(v),
		})
		m.RowID = rows.At(time.Unix(0, m.LogTime))
		msgs = append(msgs, m)
	}

	activation := stamp(common.Msg{
		Kind:        common.KindBlueprintActivation,
		StoreID:     sid,
		StoreKind:   common.StoreBlueprint,
		MakeDefault: *makeDefault,
		MakeActive:  *makeActive,
	})

	if err := blueprint.Save(*out, msgs, activation, encoding.EncoderOptions{Compression: comp}); err != nil {
		return err
	}

	info, err := os.Stat(*out)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s: store %s, %d records + activation, %s\n",
		*out, sid, len(msgs), humanize.IBytes(uint64(info.Size())))
	return nil
}

func runInspect(args []string) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: blueprint inspect <file>")
	}

	bp, err := blueprint.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	for i, m := range bp.Messages {
		printMsg(i, m)
	}
	printMsg(len(bp.Messages), bp.Activation)
	fmt.Printf("%d records, %d skipped\n", len(bp.Messages)+1, bp.Skipped)
	return nil
}

func printMsg(i int, m common.Msg) {
	ts := hlc.Timestamp{LogTime: m.LogTime, LogTick: m.LogTick}
	line := fmt.Sprintf("%4d  %-20s store=%s", i, m.Kind, m.StoreID)
	if m.EntityPath != "" {
		line += " entity=" + m.EntityPath
	}
	if m.IsActivation() {
		line += fmt.Sprintf(" default=%t active=%t", m.MakeDefault, m.MakeActive)
	}
	fmt.Printf("%s  %s\n", line, ts)
}
