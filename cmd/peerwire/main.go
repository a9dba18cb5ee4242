package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cenkalti/log"
	"github.com/cenkalti/peerwire"
	"github.com/cenkalti/peerwire/internal/infostore"
	"github.com/cenkalti/peerwire/internal/jsonutil"
	"github.com/cenkalti/peerwire/internal/logger"
	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
	"github.com/urfave/cli"
)

var cfg *peerwire.Config

func main() {
	app := cli.NewApp()
	app.Name = "peerwire"
	app.Usage = "Inspect BitTorrent peer wire streams and info dictionaries"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/.peerwire.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "decode",
			Usage:     "print messages in a captured peer stream",
			ArgsUsage: "FILE",
			Action:    handleDecode,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "chunk",
					Usage: "feed stream to the decoder in chunks of `N` bytes",
					Value: 4096,
				},
			},
		},
		{
			Name:      "info",
			Usage:     "print an info dictionary or the info of a torrent file",
			ArgsUsage: "FILE",
			Action:    handleInfo,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "db",
					Usage: "save info to database at `PATH`",
				},
			},
		},
		{
			Name:      "cached",
			Usage:     "list info dictionaries in database, or print the one with HASH",
			ArgsUsage: "[HASH]",
			Action:    handleCached,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "db",
					Usage: "database `PATH`, default is taken from config",
				},
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	var err error
	cfg, err = peerwire.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	logger.SetDebug(c.Bool("debug"))
	return nil
}

func handleDecode(c *cli.Context) error {
	chunk := c.Int("chunk")
	if chunk <= 0 {
		return fmt.Errorf("invalid chunk size: %d", chunk)
	}
	f, err := openArg(c)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	b := make([]byte, chunk)
	for {
		n, rerr := io.ReadFull(f, b)
		buf.Write(b[:n])
		for {
			msg, ok, derr := peerprotocol.DecodeMessage(&buf)
			if derr != nil {
				return derr
			}
			if !ok {
				break
			}
			printMessage(msg)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if buf.Len() > 0 {
		fmt.Printf("%d trailing bytes\n", buf.Len())
	}
	return nil
}

func printMessage(msg peerprotocol.Message) {
	fmt.Println(msg.String())
	if msg.ID != peerprotocol.Extension {
		return
	}
	var em peerprotocol.ExtensionMessage
	if err := em.UnmarshalBinary(msg.Payload); err != nil {
		fmt.Println("  error:", err)
		return
	}
	if em.ExtendedMessageID == peerprotocol.ExtensionIDHandshake {
		var hs peerprotocol.ExtensionHandshakeMessage
		if err := hs.UnmarshalBinary(em.Payload); err != nil {
			fmt.Println("  error:", err)
			return
		}
		printStruct(hs)
		return
	}
	var mp peerprotocol.ExtensionMetadataPayload
	if err := mp.UnmarshalBinary(msg.Payload); err != nil {
		fmt.Printf("  extended message %d: %s\n", em.ExtendedMessageID, err)
		return
	}
	printStruct(mp.Message)
	if mp.Info != nil {
		printStruct(mp.Info)
	} else if len(mp.Data) > 0 {
		fmt.Printf("  %d bytes of metadata\n", len(mp.Data))
	}
}

func handleInfo(c *cli.Context) error {
	f, err := openArg(c)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	info, err := metainfo.NewInfo(b)
	if err != nil {
		// Not a raw info dictionary, try as a torrent file.
		mi, err2 := metainfo.New(bytes.NewReader(b))
		if err2 != nil {
			return err
		}
		info = &mi.Info
	}
	printStruct(info)
	if path := c.String("db"); path != "" {
		s, err := infostore.Open(path)
		if err != nil {
			return err
		}
		defer s.Close()
		if _, err = s.Put(info.Bytes); err != nil {
			return err
		}
		fmt.Println("saved", hex.EncodeToString(info.Hash[:]))
	}
	return nil
}

func handleCached(c *cli.Context) error {
	path := c.String("db")
	if path == "" {
		var err error
		path, err = cfg.InfoDatabasePath()
		if err != nil {
			return err
		}
	}
	s, err := infostore.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	arg := c.Args().Get(0)
	if arg == "" {
		hashes, err := s.List()
		if err != nil {
			return err
		}
		for _, h := range hashes {
			fmt.Println(hex.EncodeToString(h[:]))
		}
		return nil
	}
	var hash [20]byte
	b, err := hex.DecodeString(arg)
	if err != nil || len(b) != len(hash) {
		return fmt.Errorf("invalid info hash: %q", arg)
	}
	copy(hash[:], b)
	info, err := s.Get(hash)
	if err != nil {
		return err
	}
	printStruct(info)
	return nil
}

func openArg(c *cli.Context) (*os.File, error) {
	name := c.Args().Get(0)
	if name == "" {
		return nil, fmt.Errorf("file argument is required")
	}
	return os.Open(name)
}

func printStruct(v any) {
	b, err := jsonutil.MarshalCompactPretty(v)
	if err != nil {
		log.Error(err)
		return
	}
	_, _ = os.Stdout.Write(b)
}
