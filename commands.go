package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/astei/chowder/blocks"
	"github.com/astei/chowder/chunk"
	"github.com/astei/chowder/nbt"
	"github.com/astei/chowder/protocol"
	"github.com/astei/chowder/region"
	"github.com/astei/chowder/snapshot"
	"github.com/astei/chowder/world"
)

func (e *env) blocksCommand() *cli.Command {
	return &cli.Command{
		Name:      "blocks",
		Usage:     "builds the block table from a manifest and resolves keys",
		ArgsUsage: "[manifest] [key...]",
		Flags: []cli.Flag{
			&cli.IntSliceFlag{Name: "id", Usage: "print the key registered for this id"},
		},
		Action: func(c *cli.Context) error {
			path := e.cfg.BlocksManifest
			keys := c.Args().Slice()
			if c.NArg() > 0 {
				path, keys = keys[0], keys[1:]
			}

			start := time.Now()
			table, err := blocks.Load(path, blocks.WithNames())
			if err != nil {
				return err
			}
			slog.Info("built block table", "manifest", path, "keys", table.Len(), "max_id", table.MaxID(), "took", time.Since(start))

			for _, key := range keys {
				if id, ok := table.Lookup(key); ok {
					fmt.Printf("%s\t%d\n", key, id)
				} else {
					fmt.Printf("%s\tnot found\n", key)
				}
			}
			for _, id := range c.IntSlice("id") {
				name, ok := table.Name(int32(id))
				if !ok {
					return fmt.Errorf("no block state with id %d", id)
				}
				fmt.Printf("%d\t%s\n", id, name)
			}
			return nil
		},
	}
}

func (e *env) chunkCommand() *cli.Command {
	return &cli.Command{
		Name:      "chunk",
		Usage:     "decodes one chunk of a region file",
		ArgsUsage: "<region file> <x> <z>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ids", Usage: "resolve palette entries against the block manifest"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return cli.Exit("need a region file and chunk coordinates", 2)
			}
			x, errX := strconv.Atoi(c.Args().Get(1))
			z, errZ := strconv.Atoi(c.Args().Get(2))
			if errX != nil || errZ != nil {
				return cli.Exit("chunk coordinates must be integers", 2)
			}

			var table *blocks.Table
			if c.Bool("ids") {
				var err error
				if table, err = blocks.Load(e.cfg.BlocksManifest); err != nil {
					return err
				}
			}

			reader, err := region.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer reader.Close()

			loc, ok := reader.Locate(x, z)
			if !ok {
				fmt.Printf("chunk %d,%d has not been generated\n", x, z)
				return nil
			}
			data, err := reader.ReadChunk(x, z, e.cfg.MaxChunkSize)
			if err != nil {
				return err
			}
			parsed, err := chunk.Parse(nbt.NewReader(data))
			if err != nil {
				return err
			}

			fmt.Printf("chunk %d,%d: %d sections, %d bytes, saved %s\n", parsed.X, parsed.Z, len(parsed.Sections), len(data), loc.ModTime().Format(time.RFC3339))
			for _, s := range parsed.Sections {
				fmt.Printf("section %d: %d palette entries, %d bits per block\n", s.Y, len(s.Palette), s.BitsPerBlock)
				for i, key := range s.Palette {
					if table == nil {
						fmt.Printf("  %d\t%s\n", i, key)
						continue
					}
					id, ok := table.Lookup(key)
					if !ok {
						return fmt.Errorf("section %d: palette entry %q is not in the block table", s.Y, key)
					}
					fmt.Printf("  %d\t%s\t%d\n", i, key, id)
				}
			}
			return nil
		},
	}
}

func (e *env) exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "loads every region of a level and writes a snapshot",
		ArgsUsage: "[region directory] <output>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "keep-empty", Usage: "keep sections and chunks holding only air"},
		},
		Action: func(c *cli.Context) error {
			dir, output := e.cfg.LevelPath, c.Args().Get(0)
			if c.NArg() == 2 {
				dir, output = c.Args().Get(0), c.Args().Get(1)
			}
			if output == "" || c.NArg() > 2 {
				return cli.Exit("need an output file", 2)
			}

			w, err := world.Open(c.Context, dir, world.Options{
				Concurrency:  e.cfg.Concurrency,
				MaxChunkSize: e.cfg.MaxChunkSize,
				KeepEmpty:    c.Bool("keep-empty"),
				Logger:       slog.Default(),
			})
			if err != nil {
				return err
			}

			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if err = snapshot.Write(file, w); err != nil {
				_ = file.Close()
				return err
			}
			if err = file.Close(); err != nil {
				return err
			}
			slog.Info("wrote snapshot", "path", output, "chunks", w.Len())
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "summarizes a snapshot",
		ArgsUsage: "<snapshot>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("need a snapshot file", 2)
			}
			file, err := os.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer file.Close()

			w, err := snapshot.Read(file, 0)
			if err != nil {
				return err
			}
			lo, hi, _ := w.Bounds()
			sections := 0
			for _, coord := range w.Coords() {
				loaded, _ := w.Chunk(coord)
				sections += len(loaded.Sections)
			}
			fmt.Printf("%d chunks, %d sections, from %d,%d to %d,%d\n", w.Len(), sections, lo.X, lo.Z, hi.X, hi.Z)
			return nil
		},
	}
}

func (e *env) statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "queries the server list entry of a server",
		ArgsUsage: "<host[:port]>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "protocol", Value: 578, Usage: "protocol version sent in the handshake"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("need a server address", 2)
			}
			host, port := c.Args().Get(0), "25565"
			if h, p, err := net.SplitHostPort(host); err == nil {
				host, port = h, p
			}
			portNum, err := strconv.ParseUint(port, 10, 16)
			if err != nil {
				return cli.Exit("invalid port "+port, 2)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			var dialer net.Dialer
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
			if err != nil {
				return err
			}
			defer conn.Close()

			status, err := protocol.QueryStatus(ctx, conn, protocol.Handshake{
				ProtocolVersion: int32(c.Int("protocol")),
				ServerAddress:   host,
				ServerPort:      uint16(portNum),
			}, protocol.NewPool(e.cfg.MaxPacketLength))
			if err != nil {
				return err
			}
			fmt.Println(status.JSON)
			slog.Info("server answered", "latency", status.Latency)
			return nil
		},
	}
}
