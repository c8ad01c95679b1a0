package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/yank/internal/app"
	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/config"
	"github.com/dmitrijs2005/yank/internal/discovery"
)

func unpairCommand() *cli.Command {
	return &cli.Command{
		Name:  "unpair",
		Usage: "erase the pairing and its shared secret",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			rec, err := a.Store.Load()
			if errors.Is(err, common.ErrNotPaired) {
				fmt.Println("Not paired.")
				return nil
			}
			if err != nil {
				return exitFor(err)
			}

			if !c.Bool("yes") && !confirm(fmt.Sprintf("Unpair from %s? [y/N] ", rec.PeerName)) {
				fmt.Println("Aborted.")
				return nil
			}

			if err := a.Store.Delete(); err != nil {
				return exitFor(err)
			}
			fmt.Println("Unpaired.")
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show pairing, peer and configuration state",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			rec, err := a.Store.Load()
			if errors.Is(err, common.ErrNotPaired) {
				fmt.Println("Paired:       no")
				fmt.Println("Run `yank pair` on one machine and `yank join` on the other.")
				return nil
			}
			if err != nil {
				return exitFor(err)
			}

			fmt.Println("Paired:       yes")
			fmt.Printf("This device:  %s\n", rec.DeviceID)
			fmt.Printf("Peer:         %s (%s)\n", rec.PeerName, rec.PeerDeviceID)
			if !rec.LastSeen.IsZero() {
				fmt.Printf("Last seen:    %s\n", rec.LastSeen.Format(time.RFC3339))
			}

			addr := discovery.ResolveOnce(context.Background(), rec.PeerDeviceID, 2*time.Second)
			if addr == "" {
				fmt.Println("Peer address: not discovered")
			} else {
				fmt.Printf("Peer address: %s\n", addr)
			}

			fmt.Printf("Port:         %d\n", a.Config.Port)
			fmt.Printf("Sync:         text=%t images=%t files=%t\n",
				a.Config.SyncText, a.Config.SyncImages, a.Config.SyncFiles)
			fmt.Printf("Lazy over:    %d bytes\n", a.Config.LazyThreshold)
			return nil
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the sync agent until signaled",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "peer", Usage: "peer IP to use when discovery stays silent"},
			&cli.BoolFlag{Name: "no-security", Usage: "authenticate but skip frame encryption"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			peer := c.String("peer")
			if peer != "" && !strings.Contains(peer, ":") {
				peer = fmt.Sprintf("%s:%d", peer, a.Config.Port)
			}

			err = a.RunAgent(context.Background(), app.AgentOptions{
				PeerAddr:   peer,
				NoSecurity: c.Bool("no-security"),
			})
			if errors.Is(err, common.ErrNotPaired) {
				return cli.Exit("yank: not paired; run `yank pair` / `yank join` first", common.ExitNotPaired)
			}
			return exitFor(err)
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "print or modify ~/.yank/config.json",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "set", Usage: "set a key: --set key value"},
			&cli.BoolFlag{Name: "reset", Usage: "restore defaults"},
		},
		ArgsUsage: "[--set K V | --reset]",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			if c.Bool("reset") {
				if err := config.Reset(); err != nil {
					return exitFor(err)
				}
				fmt.Println("Config reset to defaults.")
				return nil
			}

			if c.IsSet("set") {
				args := append(c.StringSlice("set"), c.Args().Slice()...)
				if len(args) != 2 {
					return cli.Exit("usage: yank config --set <key> <value>", common.ExitUsage)
				}
				if err := a.Config.Set(args[0], args[1]); err != nil {
					return cli.Exit(fmt.Sprintf("yank: %v", err), common.ExitUsage)
				}
				if err := a.Config.Save(); err != nil {
					return cli.Exit(fmt.Sprintf("yank: %v", err), common.ExitIOError)
				}
				fmt.Printf("%s = %s\n", args[0], args[1])
				return nil
			}

			printConfig(a)
			return nil
		},
	}
}

func printConfig(a *app.App) {
	cfg := a.Config
	fmt.Printf("port               = %d\n", cfg.Port)
	fmt.Printf("sync_text          = %t\n", cfg.SyncText)
	fmt.Printf("sync_images        = %t\n", cfg.SyncImages)
	fmt.Printf("sync_files         = %t\n", cfg.SyncFiles)
	fmt.Printf("max_file_size      = %d\n", cfg.MaxFileSize)
	fmt.Printf("max_total_size     = %d\n", cfg.MaxTotalSize)
	fmt.Printf("ignored_extensions = %s\n", strings.Join(cfg.IgnoredExtensions, ","))
	fmt.Printf("lazy_threshold     = %d\n", cfg.LazyThreshold)
	fmt.Printf("chunk_size         = %d\n", cfg.ChunkSize)
	fmt.Printf("transfer_expiry    = %d\n", int(cfg.TransferExpiry.Seconds()))
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
